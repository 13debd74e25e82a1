// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo_test

import (
	"net/netip"
	"time"

	"github.com/NVIDIA/swarm/neo"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("ErrTracker", func() {
	var (
		tracker *neo.ErrTracker
		now     int64
		node    = netip.MustParseAddrPort("10.0.0.1:4040")
		other   = netip.MustParseAddrPort("10.0.0.2:4040")
		updated []netip.AddrPort
	)

	BeforeEach(func() {
		updated = nil
		tracker = neo.NewErrTracker(60*time.Second, func(addr netip.AddrPort) {
			updated = append(updated, addr)
		})
		now = 1000
		tracker.SetClock(func() int64 { return now })
	})

	It("should report zero for an unseen node", func() {
		Expect(tracker.Rate(node)).To(BeZero())
	})

	It("should fold last-second counts into the average on a boundary", func() {
		for i := 0; i < 10; i++ {
			tracker.Error(node)
		}
		// still within the same second: nothing folded yet
		Expect(updated).To(BeEmpty())

		now++
		tracker.Error(node)
		Expect(updated).To(Equal([]netip.AddrPort{node}))
		errs, _, _ := tracker.PerSec(node)
		Expect(errs).To(BeNumerically(">", 0))
	})

	It("should never go negative and never panic on non-decreasing time", func() {
		for i := 0; i < 500; i++ {
			tracker.Error(node)
			tracker.IoTimeout(node)
			if i%3 == 0 {
				now++
			}
			if i%7 == 0 {
				tracker.ConnTimeout(node)
			}
			Expect(tracker.Rate(node)).To(BeNumerically(">=", 0))
		}
	})

	It("should decay to zero after a full window of inactivity", func() {
		tracker.Error(node)
		now++
		tracker.Error(node)
		Expect(tracker.Rate(node)).To(BeNumerically(">", 0))

		now += 61 // past the 60s window
		Expect(tracker.Rate(node)).To(BeZero())

		// and an increment after the idle gap restarts from zero
		tracker.Error(node)
		now++
		tracker.Error(node)
		errs, _, _ := tracker.PerSec(node)
		Expect(errs).To(BeNumerically(">", 0))
	})

	It("should decay skipped seconds in closed form", func() {
		tracker.Error(node)
		now++
		tracker.Error(node) // folds 1 count
		r1 := tracker.Rate(node)

		now += 30 // half the window idle
		r2 := tracker.Rate(node)
		Expect(r2).To(BeNumerically("<", r1))
		Expect(r2).To(BeNumerically(">", 0))
	})

	It("should keep the three counters and the nodes independent", func() {
		tracker.Error(node)
		tracker.IoTimeout(other)
		now++
		tracker.Error(node)
		tracker.IoTimeout(other)

		errs, ioTos, connTos := tracker.PerSec(node)
		Expect(errs).To(BeNumerically(">", 0))
		Expect(ioTos).To(BeZero())
		Expect(connTos).To(BeZero())

		errs, ioTos, _ = tracker.PerSec(other)
		Expect(errs).To(BeZero())
		Expect(ioTos).To(BeNumerically(">", 0))
	})

	It("should forget removed nodes", func() {
		tracker.Error(node)
		now++
		tracker.Error(node)
		tracker.Remove(node)
		Expect(tracker.Rate(node)).To(BeZero())
	})
})
