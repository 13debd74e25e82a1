// Package cos provides common low-level types and utilities for all swarm packages
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"sync"
)

// Runner is a long-lived service with a blocking Run and an async Stop
type Runner interface {
	Name() string
	Run() error
	Stop(err error)
}

// StopCh is a reusable close-once channel to stop renewable goroutines
type StopCh struct {
	ch   chan struct{}
	once sync.Once
}

func NewStopCh() *StopCh {
	s := &StopCh{}
	s.Init()
	return s
}

func (s *StopCh) Init() {
	s.ch = make(chan struct{})
	s.once = sync.Once{}
}

func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() {
	s.once.Do(func() {
		close(s.ch)
	})
}
