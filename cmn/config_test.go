// Package cmn provides common constants, types, and utilities for swarm clients and nodes
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cmn_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NVIDIA/swarm/cmn"
	"github.com/NVIDIA/swarm/tools/tassert"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	tassert.CheckFatal(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigLoad(t *testing.T) {
	nodes := write(t, "nodes", "10.0.0.1:4040\n")
	path := write(t, "config.json", `{
		"nodes_file": "`+nodes+`",
		"credentials_file": "/etc/swarm/credentials",
		"neo_port": 4040,
		"request_timeout_ms": 250
	}`)
	config, err := cmn.LoadConfig(path)
	tassert.CheckFatal(t, err)

	// defaults fill in
	tassert.Errorf(t, config.LegacyPort == 4039, "legacy_port: got %d", config.LegacyPort)
	tassert.Errorf(t, config.MaxRequests == cmn.DfltMaxRequests, "max_requests: got %d", config.MaxRequests)
	tassert.Errorf(t, config.ErrorWindow() == cmn.DfltErrorWindow, "error_window: got %s", config.ErrorWindow())
	tassert.Errorf(t, config.RequestTimeout() == 250*time.Millisecond, "request_timeout: got %s", config.RequestTimeout())
}

func TestConfigValidate(t *testing.T) {
	config := &cmn.Config{NeoPort: 4040}
	tassert.Fatalf(t, config.Validate() != nil, "nodes_file is required")
	config = &cmn.Config{NodesFile: "/nodes"}
	tassert.Fatalf(t, config.Validate() != nil, "neo_port is required")
}

func TestLoadNodes(t *testing.T) {
	path := write(t, "nodes", "10.0.0.1:4040\n10.0.0.2:4040\n\n[::1]:5050\n")
	nodes, err := cmn.LoadNodes(path)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(nodes) == 3, "got %d nodes", len(nodes))
	tassert.Errorf(t, nodes[2].Port() == 5050, "v6 port: got %d", nodes[2].Port())
}

func TestLoadNodesErrors(t *testing.T) {
	for name, content := range map[string]string{
		"empty":     "",
		"malformed": "10.0.0.1\n",
		"duplicate": "10.0.0.1:4040\n10.0.0.1:4040\n",
		"bad port":  "10.0.0.1:99999\n",
	} {
		_, err := cmn.LoadNodes(write(t, "nodes", content))
		tassert.Errorf(t, err != nil, "%s: expecting error", name)
	}
}
