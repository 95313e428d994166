package blob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "abc", PublicKey("abc"))
	require.Equal(t, "original/abc", ArchivalKey("abc"))
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("https://cdn.example")

	require.NoError(t, m.Put(ctx, Object{Key: "k", Body: []byte("data"), ContentType: "image/jpeg"}))
	obj, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("data"), obj.Body)
	require.Equal(t, CacheControl, obj.CacheControl)
	require.Equal(t, "https://cdn.example/k", m.URL("k"))

	require.NoError(t, m.Delete(ctx, "k"))
	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryFailHook(t *testing.T) {
	m := NewMemory("")
	boom := errors.New("s3 down")
	m.Fail = func(op, key string) error {
		if op == "put" && key == "bad" {
			return boom
		}
		return nil
	}
	require.ErrorIs(t, m.Put(context.Background(), Object{Key: "bad", Body: []byte{1}}), boom)
	require.NoError(t, m.Put(context.Background(), Object{Key: "good", Body: []byte{1}}))
	require.Equal(t, 1, m.Len())
}

func TestTimedSetsDeadline(t *testing.T) {
	m := NewMemory("")
	var sawDeadline bool
	m.Fail = func(string, string) error { return nil }
	g := Timed(&deadlineProbe{Gateway: m, seen: &sawDeadline}, time.Second)
	require.NoError(t, g.Delete(context.Background(), "x"))
	require.True(t, sawDeadline)
	require.Same(t, m, Timed(m, 0))
}

type deadlineProbe struct {
	Gateway
	seen *bool
}

func (d *deadlineProbe) Delete(ctx context.Context, key string) error {
	_, *d.seen = ctx.Deadline()
	return d.Gateway.Delete(ctx, key)
}

func TestS3StorageURL(t *testing.T) {
	s := NewS3Storage(nil, S3Config{Bucket: "pujo", Endpoint: "s3.ap-south-1.amazonaws.com", UseSSL: true})
	require.Equal(t, "https://pujo.s3.ap-south-1.amazonaws.com/abc", s.URL("abc"))

	s = NewS3Storage(nil, S3Config{Bucket: "pujo", PublicBaseURL: "https://cdn.example/"})
	require.Equal(t, "https://cdn.example/original/abc", s.URL("original/abc"))
	require.Error(t, s.Put(context.Background(), Object{Key: "k", Body: []byte{1}}))
}
