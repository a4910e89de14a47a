// Package address assigns stable, recomputable identities to elements of a
// live DOM without touching the document's attributes.
//
// An element's Structural Path is its positional address from the document
// root: slash-separated tag[index] segments with a 1-based same-tag sibling
// index at every level, e.g. "/html[1]/body[1]/div[2]/p[1]". Two
// structurally-equivalent elements at the same tree position on two loads of
// the same markup yield the same path, which makes the derived identifier a
// handle that survives page reloads.
package address

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one level of a Structural Path: a lowercase tag name and the
// 1-based index among preceding siblings sharing that tag.
type Segment struct {
	Tag   string
	Index int
}

func (s Segment) String() string {
	return fmt.Sprintf("%s[%d]", s.Tag, s.Index)
}

// Join serialises segments into a Structural Path string.
func Join(segs []Segment) string {
	if len(segs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range segs {
		b.WriteByte('/')
		b.WriteString(s.String())
	}
	return b.String()
}

// Parse splits a Structural Path back into segments. A segment without an
// explicit index defaults to 1. Malformed paths yield an error; callers
// treat that as a resolution miss, never a failure.
func Parse(path string) ([]Segment, error) {
	if path == "" {
		return nil, fmt.Errorf("address: empty path")
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("address: path %q must start with /", path)
	}

	parts := strings.Split(path[1:], "/")
	segs := make([]Segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("address: empty segment in %q", path)
		}
		seg := Segment{Index: 1}
		if i := strings.IndexByte(p, '['); i >= 0 {
			if !strings.HasSuffix(p, "]") {
				return nil, fmt.Errorf("address: malformed segment %q", p)
			}
			n, err := strconv.Atoi(p[i+1 : len(p)-1])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("address: bad index in segment %q", p)
			}
			seg.Index = n
			p = p[:i]
		}
		if p == "" {
			return nil, fmt.Errorf("address: missing tag in %q", path)
		}
		seg.Tag = strings.ToLower(p)
		segs = append(segs, seg)
	}
	return segs, nil
}

// hashSeed is the classic djb2 accumulator seed.
const hashSeed = 5381

// IdentifierFor derives the Stable Identifier for a Structural Path: a
// djb2-style rolling hash (h = h*33 XOR char) truncated to 32 bits, base-36
// encoded and zero-padded to at least 6 characters. Returns "" for an empty
// path.
//
// The hash is non-cryptographic; distinct paths can collide. Collisions are
// accepted and not resolved — identifiers are opaque handles, and a rebuild
// matches whatever elements hash to the requested set.
func IdentifierFor(path string) string {
	if path == "" {
		return ""
	}
	var h uint32 = hashSeed
	for i := 0; i < len(path); i++ {
		h = (h * 33) ^ uint32(path[i])
	}
	id := strconv.FormatUint(uint64(h), 36)
	for len(id) < 6 {
		id = "0" + id
	}
	return id
}
