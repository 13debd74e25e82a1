// Package stats tracks per-request-type time histograms and mirrors them
// to Prometheus.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package stats_test

import (
	"testing"

	"github.com/NVIDIA/swarm/cmn/mono"
	"github.com/NVIDIA/swarm/stats"
	"github.com/NVIDIA/swarm/tools/tassert"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRequestsBasic(t *testing.T) {
	s := stats.New(prometheus.NewRegistry())
	tassert.Errorf(t, !s.RequestHasOccurred("put"), "nothing recorded yet")

	start := mono.NanoTime()/1000 - 5000 // pretend the request took 5ms
	s.RequestFinished("put", start)
	s.RequestFinished("put", start)
	s.RequestFinished("get", mono.NanoTime()/1000)

	tassert.Errorf(t, s.Count("put") == 2, "count: got %d", s.Count("put"))
	tassert.Errorf(t, s.Count("get") == 1, "count: got %d", s.Count("get"))
	tassert.Errorf(t, s.TotalTimeMicros("put") >= 10000, "total: got %d", s.TotalTimeMicros("put"))
	tassert.Errorf(t, s.MeanTimeMicros("put") >= 5000, "mean: got %d", s.MeanTimeMicros("put"))
	tassert.Errorf(t, s.Count("unknown") == 0, "unseen type must read zero")
}

func TestRequestsClearPreservesKeys(t *testing.T) {
	s := stats.New(prometheus.NewRegistry())
	s.RequestFinished("getall", mono.NanoTime()/1000)
	s.Clear()

	// zero since clear, but not "never seen"
	tassert.Errorf(t, s.Count("getall") == 0, "count after clear: got %d", s.Count("getall"))
	tassert.Errorf(t, s.RequestHasOccurred("getall"), "key must survive Clear")
	tassert.Errorf(t, !s.RequestHasOccurred("never"), "unseen type")
	tassert.Errorf(t, s.MeanTimeMicros("getall") == 0, "mean after clear")
}
