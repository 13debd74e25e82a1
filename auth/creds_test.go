// Package auth implements neo connection-level authentication: credentials
// files and the HMAC-SHA256 challenge/response handshake.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package auth_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/NVIDIA/swarm/auth"
	"github.com/NVIDIA/swarm/tools/tassert"
)

const zeros64 = "0000000000000000000000000000000000000000000000000000000000000000"

func writeCreds(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials")
	tassert.CheckFatal(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCredsValid(t *testing.T) {
	path := writeCreds(t, "test:"+zeros64+"\n")
	creds, err := auth.Load(path)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(creds) == 1, "got %d entries", len(creds))
	key, ok := creds["test"]
	tassert.Fatalf(t, ok, "entry missing")
	tassert.Errorf(t, key == auth.Key{}, "all-zero key expected")
}

func TestCredsMultiEntry(t *testing.T) {
	path := writeCreds(t, "alice:"+zeros64+"\nbob:"+strings.Repeat("ab", 32)+"\n")
	creds, err := auth.Load(path)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(creds) == 2, "got %d entries", len(creds))
}

func TestCredsParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"blank line", "test:" + zeros64 + "\n\n"},
		{"no separator", "test" + zeros64 + "\n"},
		{"short key", "test:" + zeros64[:62] + "\n"},
		{"long key", "test:" + zeros64 + "00\n"},
		{"non-hex key", "test:" + strings.Repeat("zz", 32) + "\n"},
		{"empty name", ":" + zeros64 + "\n"},
		{"leading digit", "1test:" + zeros64 + "\n"},
		{"bad char in name", "te st:" + zeros64 + "\n"},
		{"name too long", strings.Repeat("a", 65) + ":" + zeros64 + "\n"},
		{"duplicate name", "test:" + zeros64 + "\ntest:" + zeros64 + "\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := auth.Load(writeCreds(t, tc.content))
			tassert.Fatalf(t, err != nil, "expecting parse error")
			tassert.Errorf(t, auth.IsParseErr(err), "expecting ParseErr, got %T: %v", err, err)
		})
	}
}

func TestClientCredsExactlyOne(t *testing.T) {
	path := writeCreds(t, "test:"+zeros64+"\n")
	name, _, err := auth.LoadClient(path)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, name == "test", "got %q", name)

	// a multi-line client credentials file is rejected
	path = writeCreds(t, "alice:"+zeros64+"\nbob:"+zeros64+"\n")
	_, _, err = auth.LoadClient(path)
	tassert.Fatalf(t, err != nil, "expecting rejection of multi-entry client credentials")
	tassert.Errorf(t, auth.IsParseErr(err), "expecting ParseErr, got %T", err)
}
