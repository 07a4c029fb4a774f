package storage

import (
	"bytes"
	"io"
)

// PutPayload is the data of a put: a single buffer, or ordered chunks that
// stores may upload as the parts of a multipart upload. The chunks are never
// copied or retained by a store beyond the call.
type PutPayload struct {
	chunks [][]byte
}

func NewPayload(data []byte) PutPayload {
	return PutPayload{chunks: [][]byte{data}}
}

func PayloadFromChunks(chunks ...[]byte) PutPayload {
	kept := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		if len(c) > 0 {
			kept = append(kept, c)
		}
	}
	return PutPayload{chunks: kept}
}

// Size in bytes
func (p PutPayload) Len() int64 {
	var n int64
	for _, c := range p.chunks {
		n += int64(len(c))
	}
	return n
}

func (p PutPayload) Chunks() [][]byte {
	return p.chunks
}

func (p PutPayload) IsMultipart() bool {
	return len(p.chunks) > 1
}

// Returns a new reader over the whole payload. Every call starts from the
// first byte, which lets a retried attempt resend the same body.
func (p PutPayload) Reader() io.Reader {
	switch len(p.chunks) {
	case 0:
		return bytes.NewReader(nil)
	case 1:
		return bytes.NewReader(p.chunks[0])
	}
	readers := make([]io.Reader, len(p.chunks))
	for i, c := range p.chunks {
		readers[i] = bytes.NewReader(c)
	}
	return io.MultiReader(readers...)
}

// Returns the payload as one contiguous buffer, copying only when it is chunked
func (p PutPayload) Bytes() []byte {
	switch len(p.chunks) {
	case 0:
		return nil
	case 1:
		return p.chunks[0]
	}
	return bytes.Join(p.chunks, nil)
}
