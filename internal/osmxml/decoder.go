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

// Package osmxml streams elements out of OSM XML files, including the full
// history flavour where every version of an element is present.
package osmxml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"m4o.io/osmhistory/model"
)

type xmlTag struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

type xmlNd struct {
	Ref string `xml:"ref,attr"`
}

type xmlMember struct {
	Type string `xml:"type,attr"`
	Ref  string `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

type xmlElement struct {
	XMLName   xml.Name
	ID        string      `xml:"id,attr"`
	Version   string      `xml:"version,attr"`
	Changeset string      `xml:"changeset,attr"`
	Timestamp string      `xml:"timestamp,attr"`
	UID       string      `xml:"uid,attr"`
	User      string      `xml:"user,attr"`
	Visible   string      `xml:"visible,attr"`
	Lat       string      `xml:"lat,attr"`
	Lon       string      `xml:"lon,attr"`
	Tags      []xmlTag    `xml:"tag"`
	Nds       []xmlNd     `xml:"nd"`
	Members   []xmlMember `xml:"member"`
}

type options struct {
	fragment bool
}

// Option configures a Decoder.
type Option func(*options)

// WithFragment decodes input that starts at an element boundary in the
// middle of a document rather than at the document start.
func WithFragment() Option {
	return func(o *options) {
		o.fragment = true
	}
}

// Decoder reads nodes, ways and relations from an OSM XML stream in
// document order. Elements that cannot be converted, e.g. because of a
// missing version, are skipped and counted.
type Decoder struct {
	xd      *xml.Decoder
	dropped int64
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	var cfg options
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.fragment {
		r = io.MultiReader(strings.NewReader("<osm>"), r)
	}

	return &Decoder{xd: xml.NewDecoder(r)}
}

// Dropped is the number of elements skipped so far.
func (d *Decoder) Dropped() int64 {
	return d.dropped
}

// Decode returns the next element, or io.EOF at the end of the stream. A
// document cut off between two elements ends cleanly.
func (d *Decoder) Decode() (model.Entity, error) {
	for {
		tok, err := d.xd.Token()
		if err != nil {
			if errors.Is(err, io.EOF) || isTruncatedBetweenElements(err) {
				return nil, io.EOF
			}

			return nil, fmt.Errorf("unable to read xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "osm":
				continue
			case "node", "way", "relation":
			default:
				if err := d.xd.Skip(); err != nil {
					return nil, fmt.Errorf("unable to skip <%s>: %w", t.Name.Local, err)
				}

				continue
			}

			var el xmlElement
			if err := d.xd.DecodeElement(&el, &t); err != nil {
				return nil, fmt.Errorf("unable to decode <%s>: %w", t.Name.Local, err)
			}

			e, err := el.entity()
			if err != nil {
				d.dropped++
				continue
			}

			return e, nil
		}
	}
}

// isTruncatedBetweenElements matches the syntax error the xml package
// reports for a document whose root is never closed.
func isTruncatedBetweenElements(err error) bool {
	var se *xml.SyntaxError

	return errors.As(err, &se) && se.Msg == "unexpected EOF"
}

func (el *xmlElement) entity() (model.Entity, error) {
	id, err := strconv.ParseInt(el.ID, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: id %q", model.ErrInvalid, el.ID)
	}

	info, err := el.info()
	if err != nil {
		return nil, err
	}

	tags := make(map[string]string, len(el.Tags))
	for _, t := range el.Tags {
		tags[t.K] = t.V
	}

	switch el.XMLName.Local {
	case "node":
		return el.node(id, info, tags)
	case "way":
		return el.way(id, info, tags)
	default:
		return el.relation(id, info, tags)
	}
}

func (el *xmlElement) info() (*model.Info, error) {
	version, err := strconv.ParseInt(el.Version, 10, 64)
	if err != nil || version < 1 {
		return nil, fmt.Errorf("%w: version %q", model.ErrInvalid, el.Version)
	}

	changeset, err := strconv.ParseInt(el.Changeset, 10, 64)
	if err != nil || changeset < 0 {
		return nil, fmt.Errorf("%w: changeset %q", model.ErrInvalid, el.Changeset)
	}

	ts, err := time.Parse(time.RFC3339, el.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp %q", model.ErrInvalid, el.Timestamp)
	}

	info := &model.Info{
		Version:   version,
		Changeset: changeset,
		Timestamp: ts.UTC(),
	}

	if el.UID != "" {
		uid, err := strconv.ParseInt(el.UID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: uid %q", model.ErrInvalid, el.UID)
		}

		info.UID = model.UID(uid)
		info.User = el.User
	}

	return info, nil
}

// visibility resolves the visible attribute; fallback applies when the
// attribute is absent, as in files without history.
func (el *xmlElement) visibility(fallback bool) (bool, error) {
	if el.Visible == "" {
		return fallback, nil
	}

	v, err := strconv.ParseBool(el.Visible)
	if err != nil {
		return false, fmt.Errorf("%w: visible %q", model.ErrInvalid, el.Visible)
	}

	return v, nil
}

func (el *xmlElement) node(id int64, info *model.Info, tags map[string]string) (model.Entity, error) {
	n := &model.Node{ID: id, Tags: tags, Info: info}

	if el.Lat != "" && el.Lon != "" {
		lat, err := model.ParseDegrees(el.Lat, model.MaxLat)
		if err != nil {
			return nil, err
		}

		lon, err := model.ParseDegrees(el.Lon, model.MaxLon)
		if err != nil {
			return nil, err
		}

		n.Lat, n.Lon = lat, lon
		n.HasLocation = true
	}

	visible, err := el.visibility(n.HasLocation)
	if err != nil {
		return nil, err
	}

	if visible && !n.HasLocation {
		return nil, fmt.Errorf("%w: visible node %d without location", model.ErrInvalid, id)
	}

	info.Visible = visible

	return n, nil
}

func (el *xmlElement) way(id int64, info *model.Info, tags map[string]string) (model.Entity, error) {
	w := &model.Way{ID: id, Tags: tags, Info: info, NodeIDs: make([]int64, 0, len(el.Nds))}

	for _, nd := range el.Nds {
		ref, err := strconv.ParseInt(nd.Ref, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: nd ref %q", model.ErrInvalid, nd.Ref)
		}

		w.NodeIDs = append(w.NodeIDs, ref)
	}

	visible, err := el.visibility(len(tags) > 0 || len(w.NodeIDs) > 0)
	if err != nil {
		return nil, err
	}

	info.Visible = visible

	return w, nil
}

func (el *xmlElement) relation(id int64, info *model.Info, tags map[string]string) (model.Entity, error) {
	r := &model.Relation{ID: id, Tags: tags, Info: info, Members: make([]model.Member, 0, len(el.Members))}

	for _, m := range el.Members {
		typ, err := model.ParseElementType(m.Type)
		if err != nil {
			return nil, err
		}

		ref, err := strconv.ParseInt(m.Ref, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: member ref %q", model.ErrInvalid, m.Ref)
		}

		r.Members = append(r.Members, model.Member{ID: ref, Type: typ, Role: m.Role})
	}

	visible, err := el.visibility(len(tags) > 0 || len(r.Members) > 0)
	if err != nil {
		return nil, err
	}

	info.Visible = visible

	return r, nil
}
