// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"sync"
	"time"
)

// TimerSet maps ReqID to a one-shot abort timer. A second Set for the same
// id overwrites the first; Clear is idempotent. Capacity follows the request
// set (max_requests), so no separate bound is enforced here.
type TimerSet struct {
	mu     sync.Mutex
	timers map[ReqID]*time.Timer
	abort  func(ReqID)
}

func NewTimerSet(abort func(ReqID)) *TimerSet {
	return &TimerSet{
		timers: make(map[ReqID]*time.Timer, 16),
		abort:  abort,
	}
}

func (ts *TimerSet) SetRequestTimeout(id ReqID, d time.Duration) {
	ts.mu.Lock()
	if prev, ok := ts.timers[id]; ok {
		prev.Stop()
	}
	ts.timers[id] = time.AfterFunc(d, func() { ts.fire(id) })
	ts.mu.Unlock()
}

func (ts *TimerSet) ClearRequestTimeout(id ReqID) {
	ts.mu.Lock()
	if tm, ok := ts.timers[id]; ok {
		tm.Stop()
		delete(ts.timers, id)
	}
	ts.mu.Unlock()
}

func (ts *TimerSet) fire(id ReqID) {
	ts.mu.Lock()
	_, ok := ts.timers[id]
	delete(ts.timers, id)
	ts.mu.Unlock()
	if ok {
		ts.abort(id)
	}
}

func (ts *TimerSet) Stop() {
	ts.mu.Lock()
	for id, tm := range ts.timers {
		tm.Stop()
		delete(ts.timers, id)
	}
	ts.mu.Unlock()
}
