package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// A parsed Content-Range header. End is inclusive; Total is -1 when the
// server sent "*".
type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

func (c ContentRange) Len() int64 {
	return c.End - c.Start + 1
}

// The half-open byte range the header describes
func (c ContentRange) Bytes() ByteRange {
	return ByteRange{Start: c.Start, End: c.End + 1}
}

// Size of the whole object, falling back to the end of the span when the
// server did not say
func (c ContentRange) ObjectSize() int64 {
	if c.Total >= 0 {
		return c.Total
	}
	return c.End + 1
}

// Checks that the span answers requested: bounded and offset ranges must
// start where they were asked to and a suffix must end at the object's end
func (c ContentRange) Matches(requested GetRange) bool {
	switch requested.Kind {
	case RangeBounded:
		return c.Start == requested.Start && c.End < requested.End
	case RangeOffset:
		return c.Start == requested.Start
	case RangeSuffix:
		return c.Len() <= requested.N && (c.Total < 0 || c.End == c.Total-1)
	}
	return true
}

// Parses "bytes <start>-<end>/<total|*>"
func ParseContentRange(value string) (ContentRange, error) {
	unit, spec, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || unit != "bytes" {
		return ContentRange{}, fmt.Errorf("unsupported content-range %q", value)
	}
	span, total, ok := strings.Cut(spec, "/")
	if !ok {
		return ContentRange{}, fmt.Errorf("content-range %q has no total", value)
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return ContentRange{}, fmt.Errorf("content-range %q has no span", value)
	}

	var cr ContentRange
	var err error
	if cr.Start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return ContentRange{}, fmt.Errorf("invalid content-range start in %q", value)
	}
	if cr.End, err = strconv.ParseInt(last, 10, 64); err != nil {
		return ContentRange{}, fmt.Errorf("invalid content-range end in %q", value)
	}
	if total == "*" {
		cr.Total = -1
	} else if cr.Total, err = strconv.ParseInt(total, 10, 64); err != nil {
		return ContentRange{}, fmt.Errorf("invalid content-range total in %q", value)
	}

	if cr.Start < 0 || cr.End < cr.Start || (cr.Total >= 0 && cr.End >= cr.Total) {
		return ContentRange{}, fmt.Errorf("inconsistent content-range %q", value)
	}
	return cr, nil
}
