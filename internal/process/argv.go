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

package process

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/pintosgo/kernel/internal/pagetable"
)

// ErrStackOverflow is returned when the argument list does not fit in the
// single zeroed page setup_stack allocates for the initial user stack.
var ErrStackOverflow = errors.New("process: argument vector overflows the initial stack page")

// BuildArgvStack lays out argv, argc, and a fake return address at the top
// of page (the process's initial stack page, based at pageBase), exactly
// as original_source/userprog/process.c's setup_stack_contents does:
// string bytes first (argv[0] at the lowest address, each subsequent
// string immediately above the last), then the word-aligned argv pointer
// array (NULL-terminated), then 16-byte-aligned argv/argc/return-address
// words. It returns the resulting stack pointer.
func BuildArgvStack(page []byte, pageBase uint32, cmd string) (esp uint32, err error) {
	if len(page) != pagetable.PageSize {
		return 0, errors.New("process: stack page must be exactly one PageSize")
	}

	args := strings.Fields(cmd)
	if len(args) == 0 {
		return 0, errors.New("process: empty command line")
	}

	top := uint32(len(page))

	strLen := uint32(0)
	for _, a := range args {
		strLen += uint32(len(a)) + 1
	}
	if top < strLen {
		return 0, ErrStackOverflow
	}
	top -= strLen

	argvAddrs := make([]uint32, len(args))
	cursor := top
	for i, a := range args {
		argvAddrs[i] = pageBase + cursor
		copy(page[cursor:], a)
		page[cursor+uint32(len(a))] = 0
		cursor += uint32(len(a)) + 1
	}

	top -= top % 4

	arrSize := uint32(len(args)+1) * 4
	if top < arrSize {
		return 0, ErrStackOverflow
	}
	top -= arrSize
	argvArrayAddr := pageBase + top
	for i, addr := range argvAddrs {
		binary.LittleEndian.PutUint32(page[top+uint32(i)*4:], addr)
	}
	binary.LittleEndian.PutUint32(page[top+uint32(len(args))*4:], 0)

	top -= (top + 8) % 16

	if top < 12 {
		return 0, ErrStackOverflow
	}
	top -= 4
	binary.LittleEndian.PutUint32(page[top:], argvArrayAddr)
	top -= 4
	binary.LittleEndian.PutUint32(page[top:], uint32(len(args)))
	top -= 4
	binary.LittleEndian.PutUint32(page[top:], 0)

	return pageBase + top, nil
}
