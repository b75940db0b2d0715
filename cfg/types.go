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

package cfg

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a byte count accepted on the command line or in a YAML config
// file either as a bare integer or with a "KiB"/"MiB"/"GiB" suffix, decoded
// by byteSizeHookFunc (mapstructure) the same way the teacher's cfg.Octal type
// decodes octal permission literals.
type ByteSize int64

const (
	KiB ByteSize = 1 << 10
	MiB ByteSize = 1 << 20
	GiB ByteSize = 1 << 30
)

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(b), 10)), nil
}

// ParseByteSize parses strings like "512", "4MiB", "8GiB".
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("cfg: empty size")
	}

	mult := ByteSize(1)
	for _, suf := range []struct {
		text string
		mult ByteSize
	}{
		{"GiB", GiB}, {"MiB", MiB}, {"KiB", KiB},
	} {
		if strings.HasSuffix(s, suf.text) {
			mult = suf.mult
			s = strings.TrimSuffix(s, suf.text)
			break
		}
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cfg: invalid size %q: %w", s, err)
	}

	return ByteSize(n) * mult, nil
}
