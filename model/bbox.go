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
)

const (
	MaxLat Degrees = 90.0
	MaxLon Degrees = 180.0
	MinLat Degrees = -90.0
	MinLon Degrees = -180.0
)

// Point is a location on the earth's surface.
type Point struct {
	Lat Degrees `json:"lat"`
	Lon Degrees `json:"lon"`
}

// Valid reports whether the point lies within the WGS84 coordinate range.
func (p Point) Valid() bool {
	return MinLat <= p.Lat && p.Lat <= MaxLat && MinLon <= p.Lon && p.Lon <= MaxLon
}

func (p Point) String() string {
	return fmt.Sprintf("(%s, %s)", ftoa(float64(p.Lat)), ftoa(float64(p.Lon)))
}

// BoundingBox is simply a bounding box.
type BoundingBox struct {
	Top    Degrees `json:"top"`
	Left   Degrees `json:"left"`
	Bottom Degrees `json:"bottom"`
	Right  Degrees `json:"right"`
}

// InitialBoundingBox creates a BoundingBox that is meant to be expanded.
func InitialBoundingBox() *BoundingBox {
	return &BoundingBox{
		Top:    MinLat,
		Left:   MaxLon,
		Bottom: MaxLat,
		Right:  MinLon,
	}
}

// PointBoundingBox is the degenerate bounding box covering a single point.
func PointBoundingBox(p Point) *BoundingBox {
	return &BoundingBox{Top: p.Lat, Left: p.Lon, Bottom: p.Lat, Right: p.Lon}
}

// EqualWithin checks if two bounding boxes are within a specific epsilon.
func (b *BoundingBox) EqualWithin(o *BoundingBox, eps Epsilon) bool {
	return b.Left.EqualWithin(o.Left, eps) &&
		b.Right.EqualWithin(o.Right, eps) &&
		b.Top.EqualWithin(o.Top, eps) &&
		b.Bottom.EqualWithin(o.Bottom, eps)
}

// Contains checks if the bounding box contains the lat lng point.
func (b *BoundingBox) Contains(lat Degrees, lng Degrees) bool {
	return b.Left <= lng && lng <= b.Right && b.Bottom <= lat && lat <= b.Top
}

// ContainsPoint checks if the bounding box contains p.
func (b *BoundingBox) ContainsPoint(p Point) bool {
	return b.Contains(p.Lat, p.Lon)
}

// Intersects reports whether the two boxes share at least one point.
func (b *BoundingBox) Intersects(o *BoundingBox) bool {
	return b.Left <= o.Right && o.Left <= b.Right && b.Bottom <= o.Top && o.Bottom <= b.Top
}

// IsEmpty is true for a box that has not been expanded with any point.
func (b *BoundingBox) IsEmpty() bool {
	return b.Left > b.Right || b.Bottom > b.Top
}

// Area is the area of the box in square degrees.
func (b *BoundingBox) Area() float64 {
	if b.IsEmpty() {
		return 0
	}

	return float64(b.Right-b.Left) * float64(b.Top-b.Bottom)
}

// Validate checks that the box is well-formed and within coordinate range.
func (b *BoundingBox) Validate() error {
	switch {
	case b.Left > b.Right:
		return &InvalidError{Reason: fmt.Sprintf("bbox left %s is greater than right %s", ftoa(float64(b.Left)), ftoa(float64(b.Right)))}
	case b.Bottom > b.Top:
		return &InvalidError{Reason: fmt.Sprintf("bbox bottom %s is greater than top %s", ftoa(float64(b.Bottom)), ftoa(float64(b.Top)))}
	case b.Left < MinLon || b.Right > MaxLon || b.Bottom < MinLat || b.Top > MaxLat:
		return &InvalidError{Reason: fmt.Sprintf("bbox %s is out of range", b)}
	}

	return nil
}

func (b *BoundingBox) ExpandWithLatLng(lat, lng Degrees) {
	if b.Top < lat {
		b.Top = lat
	}

	if b.Bottom > lat {
		b.Bottom = lat
	}

	if b.Left > lng {
		b.Left = lng
	}

	if b.Right < lng {
		b.Right = lng
	}
}

func (b *BoundingBox) ExpandWithPoint(p Point) {
	b.ExpandWithLatLng(p.Lat, p.Lon)
}

func (b *BoundingBox) ExpandWithBoundingBox(bbox *BoundingBox) {
	if b.Top < bbox.Top {
		b.Top = bbox.Top
	}

	if b.Bottom > bbox.Bottom {
		b.Bottom = bbox.Bottom
	}

	if b.Left > bbox.Left {
		b.Left = bbox.Left
	}

	if b.Right < bbox.Right {
		b.Right = bbox.Right
	}
}

// Union returns the minimal box covering both a and b. Either may be nil.
func Union(a, b *BoundingBox) *BoundingBox {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		c := *b
		return &c
	case b == nil:
		c := *a
		return &c
	}

	c := *a
	c.ExpandWithBoundingBox(b)

	return &c
}

func (b *BoundingBox) String() string {
	return fmt.Sprintf("[(%s, %s) (%s, %s)]",
		ftoa(float64(b.Top)), ftoa(float64(b.Left)),
		ftoa(float64(b.Bottom)), ftoa(float64(b.Right)))
}
