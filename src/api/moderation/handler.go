// Package moderation drives a submission from pending to a terminal state
// on behalf of a moderator holding a capability token.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
	"github.com/bigpicture/pujo-pictures/src/api/blob"
	"github.com/bigpicture/pujo-pictures/src/api/discord"
	"github.com/bigpicture/pujo-pictures/src/api/types"
	"github.com/bigpicture/pujo-pictures/src/logging"
	"github.com/bigpicture/pujo-pictures/src/webclient"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"

	// DefaultLockTTL applies when the upstream policy has no attempt timeout.
	DefaultLockTTL = 2 * time.Minute

	// lockMargin covers the Redis round trips around the upstream calls.
	lockMargin = 10 * time.Second
)

// LockTTLFor returns a lock TTL that outlives the slowest action under p:
// Reject retries two blob deletes, each bounded by p.Worst.
func LockTTLFor(p webclient.Policy) time.Duration {
	worst := p.Worst()
	if worst <= 0 {
		return DefaultLockTTL
	}
	return 2*worst + lockMargin
}

// Audit outcomes.
const (
	outcomeApplied  = "applied"
	outcomeNoop     = "noop"
	outcomeNotFound = "not_found"
	outcomeConflict = "conflict"
	outcomeFailed   = "failed"
)

type Store interface {
	Get(ctx context.Context, id string) (types.Submission, error)
	Approve(ctx context.Context, sub types.Submission) (types.Submission, error)
	Remove(ctx context.Context, sub types.Submission) error
	RemovePending(ctx context.Context, id string) error
	AddApproved(ctx context.Context, locationID, id string) error
	Lock(ctx context.Context, id string, ttl time.Duration) (func(context.Context) error, error)
}

type Verifier interface {
	Verify(raw string) (string, error)
}

type Notifier interface {
	Transition(ctx context.Context, submissionID, messageRef string, outcome discord.Outcome) error
}

type AuditLog interface {
	Record(ctx context.Context, ev types.ModerationEvent) error
}

type Observer interface {
	ObserveTransition(action string, started time.Time, err error)
}

// Result describes a successful action.
type Result struct {
	SubmissionID string
	Outcome      discord.Outcome
	// Repeat is set when Approve found the submission already approved.
	Repeat bool
}

// Message is the text returned to the moderator.
func (r Result) Message() string {
	switch {
	case r.Outcome == discord.OutcomeRejected:
		return "Submission disapproved and deleted successfully"
	case r.Repeat:
		return "Submission already approved"
	default:
		return "Submission approved successfully"
	}
}

type Deps struct {
	Store    Store
	Blobs    blob.Gateway
	Tokens   Verifier
	Notifier Notifier
	Audit    AuditLog
	Observer Observer
	Policy   webclient.Policy
	LockTTL  time.Duration
	Log      *zap.Logger
}

type Handler struct {
	store    Store
	blobs    blob.Gateway
	tokens   Verifier
	notifier Notifier
	audit    AuditLog
	observer Observer
	policy   webclient.Policy
	lockTTL  time.Duration
	log      *zap.Logger
}

func New(d Deps) *Handler {
	if d.LockTTL <= 0 {
		d.LockTTL = LockTTLFor(d.Policy)
	}
	return &Handler{
		store:    d.Store,
		blobs:    d.Blobs,
		tokens:   d.Tokens,
		notifier: d.Notifier,
		audit:    d.Audit,
		observer: d.Observer,
		policy:   d.Policy,
		lockTTL:  d.LockTTL,
		log:      logging.OrNop(d.Log).Named("moderation"),
	}
}

// Approve moves the submission behind token to approved. Approving an
// approved submission succeeds again without side effects beyond
// re-asserting the queue and set membership.
func (h *Handler) Approve(ctx context.Context, token string) (res Result, err error) {
	started := time.Now()
	defer func() { h.observe(ActionApprove, started, err) }()

	id, err := h.tokens.Verify(token)
	if err != nil {
		return Result{}, err
	}
	log := h.log.With(zap.String("submission_id", id), zap.String("action", ActionApprove))

	var sub types.Submission
	err = h.locked(ctx, id, func() error {
		cur, err := h.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur.IsApproved() {
			res.Repeat = true
			if err := h.store.RemovePending(ctx, id); err != nil {
				return err
			}
			if err := h.store.AddApproved(ctx, cur.LocationKey(), id); err != nil {
				return err
			}
			sub = cur
			return nil
		}
		sub, err = h.store.Approve(ctx, cur)
		return err
	})
	if err != nil {
		h.record(ctx, log, ActionApprove, id, sub.PandalID, err)
		return Result{}, err
	}

	outcome := outcomeApplied
	if res.Repeat {
		outcome = outcomeNoop
	}
	h.recordOutcome(ctx, log, ActionApprove, id, sub.PandalID, outcome, "")
	log.Info("submission approved", zap.String("pandal_id", sub.PandalID), zap.Bool("repeat", res.Repeat))

	h.transition(ctx, sub, discord.OutcomeApproved)
	res.SubmissionID = id
	res.Outcome = discord.OutcomeApproved
	return res, nil
}

// Reject deletes the submission behind token: blobs first, then the record
// and its queue entry. It succeeds once; afterwards the id is NotFound.
// An approved submission cannot be rejected and reports NotFound.
func (h *Handler) Reject(ctx context.Context, token string) (res Result, err error) {
	started := time.Now()
	defer func() { h.observe(ActionReject, started, err) }()

	id, err := h.tokens.Verify(token)
	if err != nil {
		return Result{}, err
	}
	log := h.log.With(zap.String("submission_id", id), zap.String("action", ActionReject))

	var sub types.Submission
	err = h.locked(ctx, id, func() error {
		cur, err := h.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur.IsApproved() {
			return apperr.NotFound(id)
		}
		sub = cur
		if err := h.deleteBlobs(ctx, cur); err != nil {
			log.Error("blob delete failed, record left pending", zap.String("collaborator", "s3"), zap.Error(err))
			return apperr.Upstream("delete blobs", "s3", id, err)
		}
		// The revision check catches an Approve that got in after the lock
		// expired.
		return h.store.Remove(ctx, cur)
	})
	if err != nil {
		h.record(ctx, log, ActionReject, id, sub.PandalID, err)
		return Result{}, err
	}

	h.recordOutcome(ctx, log, ActionReject, id, sub.PandalID, outcomeApplied, "")
	log.Info("submission rejected", zap.String("pandal_id", sub.PandalID))

	h.transition(ctx, sub, discord.OutcomeRejected)
	return Result{SubmissionID: id, Outcome: discord.OutcomeRejected}, nil
}

// locked runs fn under the submission's advisory lock.
func (h *Handler) locked(ctx context.Context, id string, fn func() error) error {
	release, err := h.store.Lock(ctx, id, h.lockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			h.log.Warn("lock release failed", zap.String("submission_id", id), zap.String("collaborator", "redis"), zap.Error(rerr))
		}
	}()
	return fn()
}

// deleteBlobs removes the public variant, then the archival original.
// Missing objects count as deleted.
func (h *Handler) deleteBlobs(ctx context.Context, sub types.Submission) error {
	archival := sub.OriginalKey
	if archival == "" {
		archival = blob.ArchivalKey(sub.ID)
	}
	for _, key := range []string{blob.PublicKey(sub.ID), archival} {
		err := webclient.Do(ctx, h.policy, func(ctx context.Context) error {
			err := h.blobs.Delete(ctx, key)
			if errors.Is(err, blob.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// transition updates the card after the state change has been committed.
// Its errors are already logged and dead-lettered by the notifier.
func (h *Handler) transition(ctx context.Context, sub types.Submission, outcome discord.Outcome) {
	if h.notifier == nil {
		return
	}
	_ = h.notifier.Transition(ctx, sub.ID, sub.NotificationRef, outcome)
}

func (h *Handler) record(ctx context.Context, log *zap.Logger, action, id, pandalID string, err error) {
	outcome := outcomeFailed
	switch apperr.KindOf(err) {
	case apperr.KindInvalidToken, apperr.KindExpiredToken:
		return
	case apperr.KindNotFound:
		outcome = outcomeNotFound
	case apperr.KindConflict:
		outcome = outcomeConflict
	}
	if outcome == outcomeFailed {
		log.Error("moderation action failed", zap.String("collaborator", apperr.CollaboratorOf(err)), zap.Error(err))
	} else {
		log.Info("moderation action refused", zap.String("reason", outcome))
	}
	h.recordOutcome(ctx, log, action, id, pandalID, outcome, err.Error())
}

func (h *Handler) recordOutcome(ctx context.Context, log *zap.Logger, action, id, pandalID, outcome, detail string) {
	if h.audit == nil {
		return
	}
	ev := types.ModerationEvent{
		SubmissionID: id,
		Action:       action,
		Outcome:      outcome,
		PandalID:     pandalID,
		Detail:       detail,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.audit.Record(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn("audit write failed", zap.String("collaborator", "mysql"), zap.Error(err))
	}
}

func (h *Handler) observe(action string, started time.Time, err error) {
	if h.observer != nil {
		h.observer.ObserveTransition(action, started, err)
	}
}
