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

package vmpage_test

import (
	"testing"

	"github.com/pintosgo/kernel/internal/vmpage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookupWalksEvery8thSlot(t *testing.T) {
	table := vmpage.New()
	table.Mu.Lock()
	defer table.Mu.Unlock()

	var avls []uint8
	for i := 0; i < 20; i++ {
		avl := table.Register(vmpage.Entry{UserPage: uint32(0x1000 * i), Kind: vmpage.Zero})
		avls = append(avls, avl)
	}

	// Slot 12 shares AVL value 4 with slot 4 and slot 20 (out of range).
	assert.EqualValues(t, 4, avls[4])
	assert.EqualValues(t, 4, avls[12])

	entry, ok := table.Lookup(avls[12], 0x1000*12)
	require.True(t, ok)
	assert.Equal(t, uint32(0x1000*12), entry.UserPage)
}

func TestLookupMissReportsNotFound(t *testing.T) {
	table := vmpage.New()
	table.Mu.Lock()
	defer table.Mu.Unlock()

	table.Register(vmpage.Entry{UserPage: 0x1000, Kind: vmpage.Zero})

	_, ok := table.Lookup(0, 0x9999)
	assert.False(t, ok)
}

func TestMustLookupPanicsOnMiss(t *testing.T) {
	table := vmpage.New()
	table.Mu.Lock()
	defer table.Mu.Unlock()

	assert.Panics(t, func() {
		table.MustLookup(0, 0x1000)
	})
}
