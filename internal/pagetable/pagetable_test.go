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

package pagetable_test

import (
	"testing"

	"github.com/pintosgo/kernel/internal/pagetable"
	"github.com/stretchr/testify/assert"
)

func TestSetAndGetPage(t *testing.T) {
	pt := pagetable.New()
	pt.SetPage(0x1000, 42, true)

	frame, ok := pt.GetPage(0x1000)
	assert.True(t, ok)
	assert.EqualValues(t, 42, frame)

	_, ok = pt.GetPage(0x2000)
	assert.False(t, ok)
}

func TestClearPagePreservesOtherBits(t *testing.T) {
	pt := pagetable.New()
	pt.SetPage(0x1000, 7, true)
	pt.SetDirty(0x1000, true)

	pt.ClearPage(0x1000)

	_, ok := pt.GetPage(0x1000)
	assert.False(t, ok)
	assert.True(t, pt.IsDirty(0x1000))
	assert.True(t, pt.HadPage(0x1000))
}

func TestLazyBitExclusiveWithPresent(t *testing.T) {
	pt := pagetable.New()
	pt.SetLazy(0x1000, true)

	assert.True(t, pt.IsLazy(0x1000))
	_, ok := pt.GetPage(0x1000)
	assert.False(t, ok)
	assert.True(t, pt.HadPage(0x1000))
}

func TestAVLRoundTrips(t *testing.T) {
	pt := pagetable.New()
	pt.SetAVL(0x3000, 5)
	assert.EqualValues(t, 5, pt.AVL(0x3000))

	// Only the low 3 bits are kept.
	pt.SetAVL(0x3000, 0xFF)
	assert.EqualValues(t, 7, pt.AVL(0x3000))
}

func TestLowestMappedAtOrBelow(t *testing.T) {
	pt := pagetable.New()
	base := uint32(0x8000)
	pt.SetPage(base, 1, true)
	pt.SetPage(base-pagetable.PageSize, 2, true)
	pt.SetPage(base-3*pagetable.PageSize, 3, true) // gap at base-2*PageSize

	got, ok := pt.LowestMappedAtOrBelow(base)
	assert.True(t, ok)
	assert.Equal(t, base-pagetable.PageSize, got)
}
