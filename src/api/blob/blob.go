package blob

import (
	"context"
	"errors"
	"time"
)

// CacheControl is sent with both variants; blobs never change once written.
const CacheControl = "max-age=604800"

var ErrNotFound = errors.New("blob not found")

type Object struct {
	Key          string
	Body         []byte
	ContentType  string
	CacheControl string
}

// Gateway stores the two image variants of a submission.
type Gateway interface {
	Put(ctx context.Context, obj Object) error
	Get(ctx context.Context, key string) (Object, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// URL is the public address of key.
	URL(key string) string
}

// PublicKey is where the watermarked image lives.
func PublicKey(submissionID string) string { return submissionID }

// ArchivalKey is where the original upload lives.
func ArchivalKey(submissionID string) string { return "original/" + submissionID }

func withDefaults(obj Object) Object {
	if obj.CacheControl == "" {
		obj.CacheControl = CacheControl
	}
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	return obj
}

// Timed wraps g so that every call gets its own deadline.
func Timed(g Gateway, timeout time.Duration) Gateway {
	if timeout <= 0 {
		return g
	}
	return &timed{g: g, timeout: timeout}
}

type timed struct {
	g       Gateway
	timeout time.Duration
}

func (t *timed) Put(ctx context.Context, obj Object) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.g.Put(ctx, obj)
}

func (t *timed) Get(ctx context.Context, key string) (Object, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.g.Get(ctx, key)
}

func (t *timed) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.g.Delete(ctx, key)
}

func (t *timed) URL(key string) string { return t.g.URL(key) }
