// Copyright 2017-25 the original author or authors.
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

package model

import (
	"fmt"
	"math"
	"strconv"

	"github.com/golang/geo/s1"
)

const (
	coordinatesPerDegree = 1e-9
	nanoDegrees          = 1e9
)

// Degrees is the decimal degree representation of a longitude or latitude.
type Degrees float64

// Angle represents a 1D angle in radians.
type Angle s1.Angle

// Epsilon is an enumeration of precisions that can be used when comparing Degrees.
type Epsilon float64

// Comparison precisions.
const (
	E5 Epsilon = 1e-5
	E6 Epsilon = 1e-6
	E7 Epsilon = 1e-7
	E8 Epsilon = 1e-8
	E9 Epsilon = 1e-9
)

// Angle returns the equivalent s1.Angle.
func (d Degrees) Angle() Angle { return Angle(float64(d) * float64(s1.Degree)) }

// String formats d with at most nine decimals, the precision of a stored
// coordinate.
func (d Degrees) String() string {
	return ftoa(float64(d))
}

func (d Degrees) MarshalJSON() ([]byte, error) {
	return []byte(ftoa(float64(d))), nil
}

// EqualWithin checks if two degrees are within a specific epsilon.
func (d Degrees) EqualWithin(o Degrees, eps Epsilon) bool {
	return math.Round(float64(d)/float64(eps)) == math.Round(float64(o)/float64(eps))
}

// EqualWithin checks if two angles are within a specific epsilon.
func (d Angle) EqualWithin(o Angle, eps Epsilon) bool {
	return math.Round(float64(d)/float64(eps)) == math.Round(float64(o)/float64(eps))
}

// Nano returns d in billionths of a degree, the fixed point form rows are
// stored in.
func (d Degrees) Nano() int64 {
	return int64(math.Round(float64(d) * nanoDegrees))
}

// FromNano is the inverse of Degrees.Nano. Any coordinate with up to nine
// decimals survives the round trip exactly.
func FromNano(n int64) Degrees {
	return Degrees(float64(n) / nanoDegrees)
}

// ToDegrees converts a coordinate into Degrees, given the offset and
// granularity of the coordinate.
func ToDegrees(offset int64, granularity int32, coordinate int64) Degrees {
	return coordinatesPerDegree * Degrees(offset+(int64(granularity)*coordinate))
}

// ToCoordinate is the inverse of ToDegrees; the result is rounded to the
// nearest multiple of granularity.
func ToCoordinate(offset int64, granularity int32, d Degrees) int64 {
	return int64(math.Round((float64(d)/coordinatesPerDegree - float64(offset)) / float64(granularity)))
}

// ftoa formats a float to at most nine decimals without trailing zeros.
func ftoa(f float64) string {
	return strconv.FormatFloat(math.Round(f*nanoDegrees)/nanoDegrees, 'f', -1, 64)
}

// ParseDegrees converts a decimal string to Degrees within [-limit, limit].
func ParseDegrees(s string, limit Degrees) (Degrees, error) {
	u, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &InvalidError{Reason: fmt.Sprintf("malformed coordinate %q", s)}
	}

	if math.IsNaN(u) || math.Abs(u) > float64(limit) {
		return 0, &InvalidError{Reason: fmt.Sprintf("coordinate %s out of range", s)}
	}

	return Degrees(u), nil
}
