package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
	"github.com/bigpicture/pujo-pictures/src/api/blob"
	"github.com/bigpicture/pujo-pictures/src/api/data"
	"github.com/bigpicture/pujo-pictures/src/api/discord"
	"github.com/bigpicture/pujo-pictures/src/api/media"
	"github.com/bigpicture/pujo-pictures/src/api/token"
	"github.com/bigpicture/pujo-pictures/src/api/types"
	"github.com/bigpicture/pujo-pictures/src/webclient"
)

type harness struct {
	pipeline *Pipeline
	store    *data.SubmissionStore
	blobs    *blob.Memory
	hook     *discord.MemoryWebhook
	tokens   *token.Manager
	mr       *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	policy := webclient.Policy{Attempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	store := data.NewSubmissionStore(rdb)
	blobs := blob.NewMemory("https://cdn.example")
	hook := discord.NewMemoryWebhook()
	tokens := token.NewManager("test-secret", token.DefaultTTL)
	wm, err := media.NewWatermarker()
	require.NoError(t, err)

	p := New(Deps{
		Store:       store,
		Blobs:       blobs,
		Tokens:      tokens,
		Notifier:    discord.NewSynchronizer(hook, policy, nil),
		Watermarker: wm,
		AppURL:      "https://pujo.example/",
		Policy:      policy,
	})
	return &harness{pipeline: p, store: store, blobs: blobs, hook: hook, tokens: tokens, mr: mr}
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func validRequest(photo []byte) Request {
	return Request{
		Photo:       photo,
		ContentType: "image/jpeg",
		Size:        int64(len(photo)),
		Username:    "alice",
		Location:    "Ballygunge",
		PandalID:    "42",
		PandalName:  "Ballygunge Cultural",
		Coordinates: "[22.52,88.36]",
		ImageType:   "idol",
	}
}

func TestSubmitHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	photo := testJPEG(t, 320, 240)

	id, err := h.pipeline.Submit(ctx, validRequest(photo))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sub, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, sub.Status)
	require.Equal(t, "alice", sub.Username)
	require.Equal(t, "https://cdn.example/"+id, sub.PhotoURL)
	require.Equal(t, "original/"+id, sub.OriginalKey)
	require.Equal(t, xxhash.Checksum64(photo), sub.OriginalChecksum)
	require.NotEmpty(t, sub.NotificationRef)

	pending, err := h.store.PendingIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{id}, pending)

	archival, err := h.blobs.Get(ctx, blob.ArchivalKey(id))
	require.NoError(t, err)
	require.Equal(t, photo, archival.Body)
	require.Equal(t, "image/jpeg", archival.ContentType)
	require.Equal(t, blob.CacheControl, archival.CacheControl)

	public, err := h.blobs.Get(ctx, blob.PublicKey(id))
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(public.Body))
	require.NoError(t, err)
	require.Equal(t, 320, cfg.Width)
	require.Equal(t, 240, cfg.Height)

	card := h.hook.Get(sub.NotificationRef)
	require.NotNil(t, card)
	require.Contains(t, card.Content, "Request expires in 7 days")
	require.Len(t, card.Embeds[0].Fields, 2)

	approve := card.Embeds[0].Fields[0].Value
	require.True(t, strings.HasPrefix(approve, "[yah](https://pujo.example/approve/"))
	tok := strings.TrimSuffix(strings.TrimPrefix(approve, "[yah](https://pujo.example/approve/"), ")")
	got, err := h.tokens.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, id, got)
	require.Equal(t, "[nah](https://pujo.example/disapprove/"+tok+")", card.Embeds[0].Fields[1].Value)
}

func assertNoResidue(t *testing.T, h *harness) {
	t.Helper()
	require.Zero(t, h.blobs.Len())
	pending, err := h.store.PendingIDs(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Empty(t, h.mr.Keys())
	require.Zero(t, h.hook.Count())
}

func TestSubmitRejectsOversized(t *testing.T) {
	h := newHarness(t)
	big := make([]byte, media.MaxUploadBytes+1)
	_, err := h.pipeline.Submit(context.Background(), validRequest(big))
	require.ErrorIs(t, err, apperr.ErrValidation)
	assertNoResidue(t, h)
}

func TestSubmitRejectsNonImage(t *testing.T) {
	h := newHarness(t)
	req := validRequest([]byte("%PDF-1.7"))
	req.ContentType = "application/pdf"
	_, err := h.pipeline.Submit(context.Background(), req)
	require.ErrorIs(t, err, apperr.ErrValidation)
	assertNoResidue(t, h)
}

func TestSubmitRejectsUndecodableImage(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Submit(context.Background(), validRequest([]byte("not really a jpeg")))
	require.ErrorIs(t, err, apperr.ErrValidation)
	assertNoResidue(t, h)
}

func TestSubmitRejectsBadFields(t *testing.T) {
	h := newHarness(t)
	photo := testJPEG(t, 64, 64)
	mutations := map[string]func(*Request){
		"nickname":    func(r *Request) { r.Username = "way_too_long_for_a_nickname" },
		"category":    func(r *Request) { r.ImageType = "selfie" },
		"coordinates": func(r *Request) { r.Coordinates = "22.5" },
		"email":       func(r *Request) { r.Email = "not-an-email" },
		"location": func(r *Request) {
			r.PandalID, r.PandalName, r.Location = types.NewLocationID, "", ""
		},
	}
	for name, mutate := range mutations {
		req := validRequest(photo)
		mutate(&req)
		_, err := h.pipeline.Submit(context.Background(), req)
		require.ErrorIs(t, err, apperr.ErrValidation, name)
	}
	assertNoResidue(t, h)
}

func TestSubmitCleansUpPartialBlobWrites(t *testing.T) {
	h := newHarness(t)
	h.blobs.Fail = func(op, key string) error {
		if op == "put" && strings.HasPrefix(key, "original/") {
			return errors.New("s3: 503 slow down")
		}
		return nil
	}

	_, err := h.pipeline.Submit(context.Background(), validRequest(testJPEG(t, 64, 64)))
	require.ErrorIs(t, err, apperr.ErrUpstream)
	require.Equal(t, "s3", apperr.CollaboratorOf(err))
	assertNoResidue(t, h)
}

func TestSubmitCleansUpWhenRecordFails(t *testing.T) {
	h := newHarness(t)
	h.mr.SetError("ERR disk full")

	_, err := h.pipeline.Submit(context.Background(), validRequest(testJPEG(t, 64, 64)))
	require.ErrorIs(t, err, apperr.ErrUpstream)
	require.Zero(t, h.blobs.Len())
	require.Zero(t, h.hook.Count())
}

func TestSubmitNotificationFailureKeepsSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.hook.Fail = func(string) error { return errors.New("discord: 502") }
	h.pipeline.newID = func() string { return "fixed-id" }

	_, err := h.pipeline.Submit(ctx, validRequest(testJPEG(t, 64, 64)))
	require.ErrorIs(t, err, apperr.ErrUpstream)
	require.Equal(t, "discord", apperr.CollaboratorOf(err))

	sub, err := h.store.Get(ctx, "fixed-id")
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, sub.Status)
	require.Empty(t, sub.NotificationRef)
	require.True(t, h.blobs.Has("fixed-id"))
	require.True(t, h.blobs.Has("original/fixed-id"))
}

func TestSubmitDefaultsUnlistedLocation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	req := validRequest(testJPEG(t, 64, 64))
	req.PandalID = ""
	req.PandalName = ""
	req.Location = "<i>Corner of Hindustan Road</i>"

	id, err := h.pipeline.Submit(ctx, req)
	require.NoError(t, err)
	sub, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.NewLocationID, sub.PandalID)
	require.Equal(t, "Corner of Hindustan Road", sub.Location)
}

func TestSubmitFinalizesCardApprovedBeforeLinking(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.pipeline.newID = func() string { return "early-1" }
	h.hook.Fail = func(op string) error {
		if op == "execute" {
			cur, err := h.store.Get(ctx, "early-1")
			require.NoError(t, err)
			_, err = h.store.Approve(ctx, cur)
			require.NoError(t, err)
		}
		return nil
	}

	id, err := h.pipeline.Submit(ctx, validRequest(testJPEG(t, 64, 64)))
	require.NoError(t, err)

	sub, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.StatusApproved, sub.Status)
	require.NotEmpty(t, sub.NotificationRef)

	card := h.hook.Get(sub.NotificationRef)
	require.NotNil(t, card)
	require.Equal(t, 1, h.hook.Edits)
	require.Empty(t, card.Embeds[0].Fields)
	require.Contains(t, card.Content, "[APPROVED]")
}

func TestSubmitFinalizesCardRejectedBeforeLinking(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.pipeline.newID = func() string { return "early-2" }
	h.hook.Fail = func(op string) error {
		if op == "execute" {
			cur, err := h.store.Get(ctx, "early-2")
			require.NoError(t, err)
			require.NoError(t, h.store.Remove(ctx, cur))
		}
		return nil
	}

	id, err := h.pipeline.Submit(ctx, validRequest(testJPEG(t, 64, 64)))
	require.NoError(t, err)
	require.Equal(t, "early-2", id)

	_, err = h.store.Get(ctx, id)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.Equal(t, 1, h.hook.Count())
	require.Equal(t, 1, h.hook.Edits)
	require.Contains(t, h.hook.Get("1001").Content, "[REJECTED]")
}

func TestSubmitTreatsNewPandalAsUnlisted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	req := validRequest(testJPEG(t, 64, 64))
	req.PandalID = "new_pandal"
	req.PandalName = ""
	req.Location = ""
	_, err := h.pipeline.Submit(ctx, req)
	require.ErrorIs(t, err, apperr.ErrValidation)
	assertNoResidue(t, h)

	req.Location = "Lake Town"
	id, err := h.pipeline.Submit(ctx, req)
	require.NoError(t, err)
	sub, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.NewLocationID, sub.PandalID)
}
