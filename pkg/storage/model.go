// File: pkg/storage/model.go
package storage

import (
	"fmt"
	"strconv"
	"time"
)

// Metadata of a stored object, produced by get, head and list responses
type ObjectMeta struct {
	Location     Path
	Size         int64
	LastModified time.Time
	// Opaque version token; empty when the store did not report one
	ETag string
	// Empty unless the store is versioned
	Version string
}

// A half-open byte interval [Start, End)
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

func (r ByteRange) String() string {
	return fmt.Sprintf("%d..%d", r.Start, r.End)
}

type RangeKind int

const (
	RangeFull RangeKind = iota
	// [Start, End)
	RangeBounded
	// Everything from Start to the end of the object
	RangeOffset
	// The last N bytes
	RangeSuffix
)

// Selects which bytes of an object a get returns. The zero value is the whole object.
type GetRange struct {
	Kind  RangeKind
	Start int64
	End   int64
	N     int64
}

func FullRange() GetRange {
	return GetRange{Kind: RangeFull}
}

func BoundedRange(start, end int64) GetRange {
	return GetRange{Kind: RangeBounded, Start: start, End: end}
}

func OffsetRange(start int64) GetRange {
	return GetRange{Kind: RangeOffset, Start: start}
}

func SuffixRange(n int64) GetRange {
	return GetRange{Kind: RangeSuffix, N: n}
}

func (r GetRange) IsFull() bool {
	return r.Kind == RangeFull
}

func (r GetRange) Validate() error {
	switch r.Kind {
	case RangeFull:
		return nil
	case RangeBounded:
		if r.Start < 0 || r.Start >= r.End {
			return fmt.Errorf("range %d..%d is empty or negative", r.Start, r.End)
		}
	case RangeOffset:
		if r.Start < 0 {
			return fmt.Errorf("range offset %d is negative", r.Start)
		}
	case RangeSuffix:
		if r.N <= 0 {
			return fmt.Errorf("range suffix %d must be positive", r.N)
		}
	default:
		return fmt.Errorf("unknown range kind %d", r.Kind)
	}
	return nil
}

// Returns the value of the Range request header; ok is false for a full read
func (r GetRange) Header() (value string, ok bool) {
	switch r.Kind {
	case RangeBounded:
		return "bytes=" + strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End-1, 10), true
	case RangeOffset:
		return "bytes=" + strconv.FormatInt(r.Start, 10) + "-", true
	case RangeSuffix:
		return "bytes=-" + strconv.FormatInt(r.N, 10), true
	}
	return "", false
}

// Resolves the range against an object of the given size, clamping the end
// to the object as servers do. A start at or past the end is an InvalidRange.
func (r GetRange) Resolve(size int64) (ByteRange, error) {
	switch r.Kind {
	case RangeBounded:
		if r.Start >= size {
			return ByteRange{}, &Error{Kind: KindInvalidRange, Err: fmt.Errorf("range start %d beyond object size %d", r.Start, size)}
		}
		return ByteRange{Start: r.Start, End: min(r.End, size)}, nil
	case RangeOffset:
		if r.Start >= size {
			return ByteRange{}, &Error{Kind: KindInvalidRange, Err: fmt.Errorf("range start %d beyond object size %d", r.Start, size)}
		}
		return ByteRange{Start: r.Start, End: size}, nil
	case RangeSuffix:
		return ByteRange{Start: max(size-r.N, 0), End: size}, nil
	}
	return ByteRange{Start: 0, End: size}, nil
}

func (r GetRange) String() string {
	switch r.Kind {
	case RangeBounded:
		return fmt.Sprintf("%d..%d", r.Start, r.End)
	case RangeOffset:
		return fmt.Sprintf("%d..", r.Start)
	case RangeSuffix:
		return fmt.Sprintf("last %d bytes", r.N)
	}
	return "full"
}

// Options for a conditional and/or ranged get
type GetOptions struct {
	Range             GetRange
	IfMatch           string
	IfNoneMatch       string
	IfModifiedSince   *time.Time
	IfUnmodifiedSince *time.Time
	Version           string
	// Only fetch metadata; the returned body is empty
	Head bool
}

// Rejects contradictory options before any request is made
func (o GetOptions) Validate() error {
	if err := o.Range.Validate(); err != nil {
		return err
	}
	if o.IfMatch != "" && o.IfMatch == o.IfNoneMatch {
		return fmt.Errorf("if-match and if-none-match both reference %q", o.IfMatch)
	}
	if o.IfModifiedSince != nil && o.IfUnmodifiedSince != nil && o.IfUnmodifiedSince.Before(*o.IfModifiedSince) {
		return fmt.Errorf("if-unmodified-since precedes if-modified-since")
	}
	return nil
}

type PutMode int

const (
	// Replace whatever is stored at the destination
	PutOverwrite PutMode = iota
	// Fail with AlreadyExists if the destination exists
	PutCreate
	// Fail with Precondition unless the destination still matches the given version
	PutUpdate
)

func (m PutMode) String() string {
	switch m {
	case PutCreate:
		return "create"
	case PutUpdate:
		return "update"
	}
	return "overwrite"
}

type PutOptions struct {
	Mode PutMode
	// Required for PutUpdate on stores versioned by ETag
	ETag string
	// Required for PutUpdate on stores versioned by generation
	Version     string
	ContentType string
	Tags        map[string]string
}

func (o PutOptions) Validate() error {
	switch o.Mode {
	case PutOverwrite, PutCreate:
		return nil
	case PutUpdate:
		if o.ETag == "" && o.Version == "" {
			return fmt.Errorf("update put requires an etag or a version")
		}
		return nil
	}
	return fmt.Errorf("unknown put mode %d", o.Mode)
}

type PutResult struct {
	ETag    string
	Version string
}

// One listing, possibly a single page of it
type ListResult struct {
	Objects        []ObjectMeta
	CommonPrefixes []Path
	// Opaque continuation token; empty on the last page
	NextCursor string
}
