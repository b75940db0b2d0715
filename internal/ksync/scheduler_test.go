// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ksync_test

import (
	"testing"
	"time"

	"github.com/pintosgo/kernel/internal/ksync"
	"github.com/stretchr/testify/assert"
)

func TestSchedulerEntersIdleImmediately(t *testing.T) {
	s := ksync.NewScheduler()
	th := ksync.NewThread("a", 1)
	s.Enter(th)
	assert.Equal(t, th, s.Current())
	s.Done(th)
	assert.Nil(t, s.Current())
}

func TestSchedulerOrdersByEffectivePriority(t *testing.T) {
	s := ksync.NewScheduler()

	running := ksync.NewThread("running", 5)
	s.Enter(running)

	low := ksync.NewThread("low", 1)
	high := ksync.NewThread("high", 50)

	lowDone := make(chan struct{})
	highDone := make(chan struct{})

	go func() {
		s.Enter(low)
		close(lowDone)
		s.Done(low)
	}()
	go func() {
		s.Enter(high)
		close(highDone)
		s.Done(high)
	}()

	// Give both goroutines a chance to reach Enter and queue up behind the
	// still-running thread.
	time.Sleep(20 * time.Millisecond)

	select {
	case <-lowDone:
		t.Fatalf("lower-priority waiter scheduled before the CPU was released")
	default:
	}

	s.Done(running)

	<-highDone
	select {
	case <-lowDone:
		t.Fatalf("low-priority thread ran before high-priority thread")
	default:
	}

	s.Done(high)
	<-lowDone
}

func TestYieldIfPreemptedLeavesLowerPriorityAlone(t *testing.T) {
	s := ksync.NewScheduler()
	running := ksync.NewThread("running", 50)
	s.Enter(running)

	low := ksync.NewThread("low", 1)
	waiterDone := make(chan struct{})
	go func() {
		s.Enter(low)
		close(waiterDone)
		s.Done(low)
	}()

	time.Sleep(20 * time.Millisecond)
	s.YieldIfPreempted(running)
	assert.Equal(t, running, s.Current())

	s.Done(running)
	<-waiterDone
}
