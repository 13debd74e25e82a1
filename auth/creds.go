// Package auth implements neo connection-level authentication: credentials
// files and the HMAC-SHA256 challenge/response handshake.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package auth

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const (
	KeySize     = 32
	maxNameSize = 64
)

type (
	// Key is one 32-byte shared secret.
	Key [KeySize]byte

	// Credentials maps principal name to key. A node's file carries one
	// entry per authorized client; a client's file carries exactly one.
	Credentials map[string]Key

	// ParseErr is any defect in a credentials file: malformed entry, bad
	// hex, wrong key length, duplicate name, empty file.
	ParseErr struct {
		path   string
		lineno int
		msg    string
	}
)

func (e *ParseErr) Error() string {
	if e.lineno == 0 {
		return fmt.Sprintf("credentials %q: %s", e.path, e.msg)
	}
	return fmt.Sprintf("credentials %q line %d: %s", e.path, e.lineno, e.msg)
}

func IsParseErr(err error) bool {
	_, ok := errors.Cause(err).(*ParseErr)
	return ok
}

func validName(name string) bool {
	if name == "" || len(name) > maxNameSize {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Load parses a credentials file: LF-terminated `name:hex64` lines.
// Blank lines are parse errors (as is an empty file).
func Load(path string) (Credentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read credentials %q", path)
	}
	creds := make(Credentials, 4)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	if len(b) == 0 {
		return nil, &ParseErr{path: path, msg: "empty file"}
	}
	for i, line := range lines {
		lineno := i + 1
		name, hex64, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ParseErr{path, lineno, "malformed entry (expecting name:hex64)"}
		}
		if !validName(name) {
			return nil, &ParseErr{path, lineno, fmt.Sprintf("invalid name %q", name)}
		}
		if len(hex64) != 2*KeySize {
			return nil, &ParseErr{path, lineno, fmt.Sprintf("key must be %d hex digits, got %d", 2*KeySize, len(hex64))}
		}
		var key Key
		if _, err := hex.Decode(key[:], []byte(hex64)); err != nil {
			return nil, &ParseErr{path, lineno, "key is not valid hex"}
		}
		if _, ok := creds[name]; ok {
			return nil, &ParseErr{path, lineno, fmt.Sprintf("duplicate name %q", name)}
		}
		creds[name] = key
	}
	return creds, nil
}

// LoadClient expects exactly one entry.
func LoadClient(path string) (name string, key Key, err error) {
	creds, err := Load(path)
	if err != nil {
		return "", Key{}, err
	}
	if len(creds) != 1 {
		return "", Key{}, &ParseErr{path: path,
			msg: fmt.Sprintf("client credentials must contain exactly one entry, got %d", len(creds))}
	}
	for name, key = range creds {
	}
	return name, key, nil
}
