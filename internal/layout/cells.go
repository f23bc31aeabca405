// Copyright 2025 the original author or authors.
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

package layout

import (
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"m4o.io/osmhistory/model"
)

// maxCoveringCells bounds the number of range scans per spatial query.
const maxCoveringCells = 16

// CellOf is the leaf cell containing p.
func CellOf(p model.Point) s2.CellID {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(float64(p.Lat), float64(p.Lon)))
}

// RectOf converts a bounding box into an s2 rectangle.
func RectOf(bb *model.BoundingBox) s2.Rect {
	return s2.Rect{
		Lat: r1.Interval{Lo: float64(bb.Bottom.Angle()), Hi: float64(bb.Top.Angle())},
		Lng: s1.IntervalFromEndpoints(float64(bb.Left.Angle()), float64(bb.Right.Angle())),
	}
}

// Covering returns cells whose union contains bb. Every leaf cell of a
// point inside bb descends from one of them.
func Covering(bb *model.BoundingBox) s2.CellUnion {
	rc := &s2.RegionCoverer{MinLevel: 0, MaxLevel: s2.MaxLevel, LevelMod: 1, MaxCells: maxCoveringCells}

	covering := rc.Covering(RectOf(bb))
	covering.Normalize()

	return covering
}
