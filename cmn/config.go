// Package cmn provides common constants, types, and utilities for swarm clients and nodes
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const (
	DfltMaxRequests = 1024
	DfltErrorWindow = 60 * time.Second
)

type (
	// Config comprises the options recognized by the neo core. A node ignores
	// `credentials_file` multiplicity rules that apply to clients, and vice versa.
	Config struct {
		NodesFile       string `json:"nodes_file"`
		CredentialsFile string `json:"credentials_file"`
		NeoPort         uint16 `json:"neo_port"`
		LegacyPort      uint16 `json:"legacy_port"` // not used by the core
		ConnectionLimit uint32 `json:"connection_limit"`
		MaxRequests     uint32 `json:"max_requests"`
		RequestTimeoutM uint32 `json:"request_timeout_ms"` // 0 = disabled
		ErrorWindowS    uint32 `json:"error_window_s"`
	}
)

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", path)
	}
	config := &Config{}
	if err := jsoniter.Unmarshal(b, config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %q", path)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.NodesFile == "" {
		return errors.New("config: nodes_file is required")
	}
	if c.NeoPort == 0 {
		return errors.New("config: neo_port is required")
	}
	if c.LegacyPort == 0 {
		c.LegacyPort = c.NeoPort - 1
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = DfltMaxRequests
	}
	if c.ErrorWindowS == 0 {
		c.ErrorWindowS = uint32(DfltErrorWindow / time.Second)
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutM) * time.Millisecond
}

func (c *Config) ErrorWindow() time.Duration {
	return time.Duration(c.ErrorWindowS) * time.Second
}

//
// nodes file: one `ip:port` per line, UTF-8, addresses unique
//

func LoadNodes(path string) ([]netip.AddrPort, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open nodes file %q", path)
	}
	defer fh.Close()

	var (
		nodes   []netip.AddrPort
		seen    = make(map[netip.AddrPort]struct{}, 8)
		scanner = bufio.NewScanner(fh)
		lineno  int
	)
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		addr, err := netip.ParseAddrPort(line)
		if err != nil {
			return nil, errors.Wrapf(err, "nodes file %q line %d", path, lineno)
		}
		if _, ok := seen[addr]; ok {
			return nil, fmt.Errorf("nodes file %q line %d: duplicate address %s", path, lineno, addr)
		}
		seen[addr] = struct{}{}
		nodes = append(nodes, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read nodes file %q", path)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("nodes file %q is empty", path)
	}
	return nodes, nil
}
