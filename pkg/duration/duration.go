// Copyright 2025 Arcade Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package duration parses the duration strings config knobs like
// client_timeout accept ("30s", "1d", "2w"): time.ParseDuration's units
// stop at hours, and eviction windows read better in days or weeks.
package duration

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrInvalidFormat indicates the string is not <digits><unit>.
	ErrInvalidFormat = errors.New("duration: invalid format")
	// ErrInvalidUnit indicates an unrecognized unit suffix.
	ErrInvalidUnit = errors.New("duration: invalid unit")
)

// unitSizes maps a unit suffix to its length. Months and years are the
// fixed 30- and 365-day approximations config files conventionally mean.
var unitSizes = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'M': 30 * 24 * time.Hour,
	'y': 365 * 24 * time.Hour,
}

// Parse converts a <digits><unit> string ("1s", "5m", "2h", "3d", "1w",
// "1M", "1y") to a time.Duration. The unit is a single trailing byte;
// "m" is minutes and "M" months.
func Parse(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	size, ok := unitSizes[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, s[len(s)-1:])
	}
	n, err := strconv.ParseUint(s[:len(s)-1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	return time.Duration(n) * size, nil
}

// ParseSeconds parses like Parse and returns whole seconds.
func ParseSeconds(s string) (int64, error) {
	d, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return int64(d.Seconds()), nil
}
