// Package asset turns picked images into uploaded, dereferenceable objects.
//
// Encoding and uploading are separate steps so a caller can refuse to upload
// anything until every image of a listing has been encoded.
package asset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

// Source is an opaque byte source for one picked image.
type Source interface {
	// Name identifies the source in errors and logs.
	Name() string
	Open() (io.ReadCloser, error)
}

// BytesSource is a Source backed by an in-memory buffer.
type BytesSource struct {
	Ref  string
	Data []byte
}

func (s BytesSource) Name() string { return s.Ref }

func (s BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}

// FileSource is a Source read from the local filesystem.
type FileSource string

func (s FileSource) Name() string { return string(s) }

func (s FileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(s))
}

// Image is a Source at its position in the user's selection.
type Image struct {
	Index  int
	Source Source
}

// Payload is an encoded image ready for upload.
type Payload struct {
	Index       int
	Source      string
	ContentType string
	Data        []byte
}

// Ref points at an uploaded object.
type Ref struct {
	Index int
	Key   string
	URL   string
}

// Encoder re-encodes a picked image into an upload payload.
type Encoder interface {
	Encode(ctx context.Context, img Image) (Payload, error)
}

// ObjectStore is the remote object storage the uploader writes to.
type ObjectStore interface {
	// Put stores data under key and returns a URL the object can be fetched
	// from. The URL is only returned once the write is durable.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// EncodingError reports an image that could not be decoded or re-encoded.
type EncodingError struct {
	Index int
	Ref   string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode image #%d (%s): %v", e.Index+1, e.Ref, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// UploadError reports a payload the object store did not accept.
type UploadError struct {
	Index int
	Ref   string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload image #%d (%s): %v", e.Index+1, e.Ref, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
