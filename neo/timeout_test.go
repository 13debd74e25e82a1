// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo_test

import (
	"sync"
	"testing"
	"time"

	"github.com/NVIDIA/swarm/neo"
	"github.com/NVIDIA/swarm/tools/tassert"
)

type abortRecorder struct {
	mu  sync.Mutex
	ids []neo.ReqID
}

func (a *abortRecorder) abort(id neo.ReqID) {
	a.mu.Lock()
	a.ids = append(a.ids, id)
	a.mu.Unlock()
}

func (a *abortRecorder) get() []neo.ReqID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]neo.ReqID(nil), a.ids...)
}

func TestTimerSetExpiry(t *testing.T) {
	rec := &abortRecorder{}
	ts := neo.NewTimerSet(rec.abort)
	defer ts.Stop()

	ts.SetRequestTimeout(7, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	ids := rec.get()
	tassert.Fatalf(t, len(ids) == 1 && ids[0] == 7, "expecting one abort of id 7, got %v", ids)
}

func TestTimerSetClear(t *testing.T) {
	rec := &abortRecorder{}
	ts := neo.NewTimerSet(rec.abort)
	defer ts.Stop()

	ts.SetRequestTimeout(7, 30*time.Millisecond)
	ts.ClearRequestTimeout(7)
	ts.ClearRequestTimeout(7) // idempotent
	time.Sleep(100 * time.Millisecond)
	tassert.Errorf(t, len(rec.get()) == 0, "cleared timer fired: %v", rec.get())
}

func TestTimerSetOverwrite(t *testing.T) {
	rec := &abortRecorder{}
	ts := neo.NewTimerSet(rec.abort)
	defer ts.Stop()

	// the second set overwrites the first: exactly one firing
	ts.SetRequestTimeout(9, 20*time.Millisecond)
	ts.SetRequestTimeout(9, 40*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	ids := rec.get()
	tassert.Fatalf(t, len(ids) == 1 && ids[0] == 9, "expecting one abort of id 9, got %v", ids)
}
