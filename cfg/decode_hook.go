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
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// DecodeHook returns the mapstructure decode hook viper uses to turn YAML
// scalars into the Config's custom types, mirroring the teacher's
// cfg/decode_hook.go.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// TagName tells viper's decoder to match Config fields against their
// `yaml:"..."` struct tags instead of mapstructure's default field-name
// matching, the same TagName: "yaml" override the teacher's own
// cmd/legacy_param_converter.go and cmd/legacy_param_mapper.go apply when
// decoding into a yaml-tagged struct.
func TagName(c *mapstructure.DecoderConfig) {
	c.TagName = "yaml"
}

func byteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch from.Kind() {
		case reflect.String:
			return ParseByteSize(data.(string))
		case reflect.Int, reflect.Int64:
			return ByteSize(reflect.ValueOf(data).Int()), nil
		default:
			return data, nil
		}
	}
}
