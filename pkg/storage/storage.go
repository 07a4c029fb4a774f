// File: pkg/storage/storage.go
package storage

import (
	"context"
	"errors"
	"io"
	"iter"
)

// ObjectStore is the storage-access contract implemented by every provider.
// Implementations are safe to call from multiple goroutines; each call runs
// its own requests in sequence.
type ObjectStore interface {
	// Full object read
	Get(ctx context.Context, location Path) (*GetResult, error)
	GetOpts(ctx context.Context, location Path, options GetOptions) (*GetResult, error)
	// Reads [r.Start, r.End); the result is shorter when the object ends first
	GetRange(ctx context.Context, location Path, r ByteRange) ([]byte, error)
	GetRanges(ctx context.Context, location Path, ranges []ByteRange) ([][]byte, error)
	Head(ctx context.Context, location Path) (ObjectMeta, error)

	Put(ctx context.Context, location Path, payload PutPayload) (PutResult, error)
	PutOpts(ctx context.Context, location Path, payload PutPayload, options PutOptions) (PutResult, error)
	// Uploads r in parts of partSize bytes. A failed upload leaves nothing behind.
	PutMultipart(ctx context.Context, location Path, r io.Reader, partSize int64, options PutOptions) (PutResult, error)

	Delete(ctx context.Context, location Path) error

	// Every object below prefix, across all pages
	List(ctx context.Context, prefix Path) iter.Seq2[ObjectMeta, error]
	// One level of the hierarchy below prefix, across all pages
	ListWithDelimiter(ctx context.Context, prefix Path) (ListResult, error)
	// A single page below prefix; cursor comes from a previous page's NextCursor
	ListPage(ctx context.Context, prefix Path, delimited bool, cursor string) (ListResult, error)

	Copy(ctx context.Context, from, to Path) error
	CopyIfNotExists(ctx context.Context, from, to Path) error
	Rename(ctx context.Context, from, to Path) error
	RenameIfNotExists(ctx context.Context, from, to Path) error

	Close() error
}

// Implemented by stores that can report the total bytes they hold without
// listing every object
type UsageReporter interface {
	Usage(ctx context.Context) (int64, error)
}

// The copy primitives a copy-then-delete rename is assembled from
type copier interface {
	Copy(ctx context.Context, from, to Path) error
	CopyIfNotExists(ctx context.Context, from, to Path) error
	Delete(ctx context.Context, location Path) error
}

// Renames by copying and then deleting the source, for stores without an
// atomic rename. The source is only deleted once the copy has succeeded, so
// a failed copy leaves it untouched.
func RenameByCopy(ctx context.Context, s copier, from, to Path, ifNotExists bool) error {
	if from == to {
		return InvalidInput(OpRename, from, "source and destination are the same object")
	}
	var err error
	if ifNotExists {
		err = s.CopyIfNotExists(ctx, from, to)
	} else {
		err = s.Copy(ctx, from, to)
	}
	if err != nil {
		return err
	}
	return s.Delete(ctx, from)
}

// Reads a byte range through GetOpts. Shared by stores whose ranged get
// already returns the exact bytes.
func ReadRange(ctx context.Context, s ObjectStore, location Path, r ByteRange) ([]byte, error) {
	res, err := s.GetOpts(ctx, location, GetOptions{Range: BoundedRange(r.Start, r.End)})
	if err != nil {
		return nil, err
	}
	return res.Bytes()
}

// Reads each range in order with ReadRange
func ReadRanges(ctx context.Context, s ObjectStore, location Path, ranges []ByteRange) ([][]byte, error) {
	out := make([][]byte, 0, len(ranges))
	for _, r := range ranges {
		data, err := s.GetRange(ctx, location, r)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// Walks every page of a listing, feeding each cursor back verbatim
func WalkPages(ctx context.Context, s ObjectStore, prefix Path) iter.Seq2[ObjectMeta, error] {
	return func(yield func(ObjectMeta, error) bool) {
		cursor := ""
		for {
			page, err := s.ListPage(ctx, prefix, false, cursor)
			if err != nil {
				yield(ObjectMeta{}, err)
				return
			}
			for _, obj := range page.Objects {
				if !yield(obj, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// Collects every page of a delimited listing into one result
func CollectDelimited(ctx context.Context, s ObjectStore, prefix Path) (ListResult, error) {
	var out ListResult
	seen := make(map[Path]struct{})
	cursor := ""
	for {
		page, err := s.ListPage(ctx, prefix, true, cursor)
		if err != nil {
			return ListResult{}, err
		}
		out.Objects = append(out.Objects, page.Objects...)
		for _, p := range page.CommonPrefixes {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out.CommonPrefixes = append(out.CommonPrefixes, p)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return Partition(out), nil
}

// Enforces the listing invariant that no path is both an object and a
// common prefix. A colliding object is dropped in favor of the prefix so a
// caller walking the hierarchy still descends into it.
func Partition(res ListResult) ListResult {
	if len(res.CommonPrefixes) == 0 {
		return res
	}
	prefixes := make(map[Path]struct{}, len(res.CommonPrefixes))
	for _, p := range res.CommonPrefixes {
		prefixes[p] = struct{}{}
	}
	objects := res.Objects[:0:0]
	for _, obj := range res.Objects {
		if _, clash := prefixes[obj.Location]; clash {
			continue
		}
		objects = append(objects, obj)
	}
	res.Objects = objects
	return res
}

// Collects a listing sequence into a slice
func CollectList(seq iter.Seq2[ObjectMeta, error]) ([]ObjectMeta, error) {
	var out []ObjectMeta
	for obj, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// Smallest part size accepted by PutMultipart
const MinPartSize = 5 * 1024 * 1024

// Reads r into a chunked payload of partSize chunks, for stores that upload
// multipart data as a single request
func ReadPayload(r io.Reader, partSize int64) (PutPayload, error) {
	if partSize <= 0 {
		partSize = MinPartSize
	}
	var chunks [][]byte
	for {
		buf := make([]byte, partSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunks = append(chunks, buf[:n])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return PutPayload{}, err
		}
	}
	return PayloadFromChunks(chunks...), nil
}

// Closes c, joining its error onto err
func CloseWith(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil {
		*err = errors.Join(*err, cerr)
	}
}
