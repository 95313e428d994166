// Package ingest turns an uploaded photo into a pending submission: it
// validates and watermarks the upload, stores both image variants, records
// and queues the submission, and posts the moderation card.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
	"github.com/bigpicture/pujo-pictures/src/api/blob"
	"github.com/bigpicture/pujo-pictures/src/api/discord"
	"github.com/bigpicture/pujo-pictures/src/api/media"
	"github.com/bigpicture/pujo-pictures/src/api/types"
	"github.com/bigpicture/pujo-pictures/src/logging"
	"github.com/bigpicture/pujo-pictures/src/webclient"
)

// Request is one multipart submission as received from the client.
type Request struct {
	Photo          []byte
	ContentType    string
	Size           int64
	Username       string
	Email          string
	RedditUsername string
	Location       string
	PandalID       string
	PandalName     string
	Coordinates    string
	ImageType      string
}

type Store interface {
	Create(ctx context.Context, sub types.Submission) (types.Submission, error)
	Update(ctx context.Context, id string, fn func(*types.Submission) error) (types.Submission, error)
}

type Tokens interface {
	Issue(submissionID string) (string, time.Time, error)
	TTL() time.Duration
}

type Notifier interface {
	Post(ctx context.Context, card discord.Card) (string, error)
	Transition(ctx context.Context, submissionID, messageRef string, outcome discord.Outcome) error
}

type Observer interface {
	ObserveSubmission(started time.Time, err error)
}

type Pipeline struct {
	store    Store
	blobs    blob.Gateway
	tokens   Tokens
	notifier Notifier
	wm       *media.Watermarker
	appURL   string
	policy   webclient.Policy
	observer Observer
	log      *zap.Logger
	newID    func() string
}

type Deps struct {
	Store       Store
	Blobs       blob.Gateway
	Tokens      Tokens
	Notifier    Notifier
	Watermarker *media.Watermarker
	// AppURL is the base the moderation links are built on.
	AppURL   string
	Policy   webclient.Policy
	Observer Observer
	Log      *zap.Logger
}

func New(d Deps) *Pipeline {
	return &Pipeline{
		store:    d.Store,
		blobs:    d.Blobs,
		tokens:   d.Tokens,
		notifier: d.Notifier,
		wm:       d.Watermarker,
		appURL:   strings.TrimRight(d.AppURL, "/"),
		policy:   d.Policy,
		observer: d.Observer,
		log:      logging.OrNop(d.Log).Named("ingest"),
		newID:    uuid.NewString,
	}
}

// ApproveURL and RejectURL embed the same token; the path picks the action.
func (p *Pipeline) ApproveURL(token string) string { return p.appURL + "/approve/" + token }
func (p *Pipeline) RejectURL(token string) string  { return p.appURL + "/disapprove/" + token }

// Submit runs the whole ingestion and returns the new submission id.
func (p *Pipeline) Submit(ctx context.Context, req Request) (id string, err error) {
	started := time.Now()
	defer func() {
		if p.observer != nil {
			p.observer.ObserveSubmission(started, err)
		}
	}()

	sub, err := p.validate(req)
	if err != nil {
		return "", err
	}

	id = p.newID()
	sub.ID = id
	log := p.log.With(zap.String("submission_id", id))

	marked, err := p.wm.Apply(req.Photo, sub.Username, id)
	if err != nil {
		return "", err
	}

	publicKey, archivalKey := blob.PublicKey(id), blob.ArchivalKey(id)
	sub.PhotoURL = p.blobs.URL(publicKey)
	sub.OriginalKey = archivalKey
	sub.OriginalChecksum = xxhash.Checksum64(req.Photo)

	if err := p.writeBlobs(ctx, publicKey, archivalKey, marked, req); err != nil {
		log.Error("blob write failed", zap.String("collaborator", "s3"), zap.Error(err))
		p.cleanup(ctx, log, publicKey, archivalKey)
		return "", apperr.Upstream("store blobs", "s3", id, err)
	}

	sub, err = p.store.Create(ctx, sub)
	if err != nil {
		log.Error("record create failed", zap.String("collaborator", "redis"), zap.Error(err))
		p.cleanup(ctx, log, publicKey, archivalKey)
		return "", err
	}

	// From here on the submission exists; later failures leave it pending
	// with an empty notification reference.
	tok, _, err := p.tokens.Issue(id)
	if err != nil {
		log.Error("token issue failed", zap.String("collaborator", "token"), zap.Error(err))
		return "", apperr.Upstream("issue token", "token", id, err)
	}

	ref, err := p.notifier.Post(ctx, discord.Card{
		Submission: sub,
		ApproveURL: p.ApproveURL(tok),
		RejectURL:  p.RejectURL(tok),
		TTL:        p.tokens.TTL(),
	})
	if err != nil {
		log.Error("card post failed", zap.String("collaborator", "discord"), zap.Error(err))
		return "", apperr.Upstream("post card", "discord", id, err)
	}

	patched, err := p.store.Update(ctx, id, func(s *types.Submission) error {
		s.NotificationRef = ref
		return nil
	})
	switch {
	case apperr.KindOf(err) == apperr.KindNotFound:
		// rejected from the card before the reference was recorded
		log.Info("submission moderated before card was linked", zap.String("outcome", string(discord.OutcomeRejected)))
		_ = p.notifier.Transition(ctx, id, ref, discord.OutcomeRejected)
	case err != nil:
		log.Error("notification ref patch failed", zap.String("collaborator", "redis"), zap.String("message_ref", ref), zap.Error(err))
		return "", err
	case patched.IsApproved():
		log.Info("submission moderated before card was linked", zap.String("outcome", string(discord.OutcomeApproved)))
		_ = p.notifier.Transition(ctx, id, ref, discord.OutcomeApproved)
	}

	log.Info("submission received",
		zap.String("pandal_id", sub.PandalID),
		zap.String("image_type", string(sub.ImageType)),
		zap.Int("bytes", len(req.Photo)),
	)
	return id, nil
}

func (p *Pipeline) validate(req Request) (types.Submission, error) {
	size := req.Size
	if size <= 0 || int64(len(req.Photo)) > size {
		size = int64(len(req.Photo))
	}
	if err := media.CheckPhoto(req.ContentType, size); err != nil {
		return types.Submission{}, err
	}

	username, err := media.CheckNickname(req.Username)
	if err != nil {
		return types.Submission{}, err
	}
	email, err := media.CheckEmail(req.Email)
	if err != nil {
		return types.Submission{}, err
	}
	handle, err := media.CheckHandle(req.RedditUsername)
	if err != nil {
		return types.Submission{}, err
	}
	category, err := media.CheckCategory(req.ImageType)
	if err != nil {
		return types.Submission{}, err
	}
	coords, err := media.ParseCoordinates(req.Coordinates)
	if err != nil {
		return types.Submission{}, err
	}

	pandalID := types.NormalizeLocationID(media.CleanText(req.PandalID))
	location := media.CleanText(req.Location)
	pandalName := media.CleanText(req.PandalName)
	if pandalID == types.NewLocationID && location == "" && pandalName == "" {
		return types.Submission{}, apperr.Validation("location is required")
	}

	return types.Submission{
		Username:       username,
		Email:          email,
		RedditUsername: handle,
		Location:       location,
		PandalID:       pandalID,
		PandalName:     pandalName,
		Coordinates:    coords,
		ImageType:      category,
	}, nil
}

func (p *Pipeline) writeBlobs(ctx context.Context, publicKey, archivalKey string, marked media.Watermarked, req Request) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.put(gctx, blob.Object{
			Key:          publicKey,
			Body:         marked.Body,
			ContentType:  marked.ContentType,
			CacheControl: blob.CacheControl,
		})
	})
	g.Go(func() error {
		return p.put(gctx, blob.Object{
			Key:          archivalKey,
			Body:         req.Photo,
			ContentType:  req.ContentType,
			CacheControl: blob.CacheControl,
		})
	})
	return g.Wait()
}

func (p *Pipeline) put(ctx context.Context, obj blob.Object) error {
	return webclient.Do(ctx, p.policy, func(ctx context.Context) error {
		if err := p.blobs.Put(ctx, obj); err != nil {
			return fmt.Errorf("put %s: %w", obj.Key, err)
		}
		return nil
	})
}

// cleanup removes whatever blob writes got through. Best effort.
func (p *Pipeline) cleanup(ctx context.Context, log *zap.Logger, keys ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := p.blobs.Delete(ctx, key); err != nil {
			log.Warn("blob cleanup failed", zap.String("collaborator", "s3"), zap.String("key", key), zap.Error(err))
		}
	}
}
