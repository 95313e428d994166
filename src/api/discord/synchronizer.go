package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/bigpicture/pujo-pictures/src/api/data"
	"github.com/bigpicture/pujo-pictures/src/logging"
	"github.com/bigpicture/pujo-pictures/src/webclient"
)

// ErrNoCard is returned by Transition when the submission has no recorded
// card to update.
var ErrNoCard = errors.New("card reference not recorded")

// DeadLetterSink records transitions that could not be delivered.
type DeadLetterSink interface {
	Append(ctx context.Context, dl data.DeadLetter) error
}

// Observer receives notification outcomes for metrics.
type Observer interface {
	ObserveNotification(op string, err error)
}

// Synchronizer posts moderation cards and keeps them in step with the
// submission's state. Transition is advisory: it never fails the caller's
// state change.
type Synchronizer struct {
	hook     Webhook
	identity Identity
	policy   webclient.Policy
	dead     DeadLetterSink
	observer Observer
	log      *zap.Logger
}

type Option func(*Synchronizer)

func WithDeadLetters(sink DeadLetterSink) Option {
	return func(s *Synchronizer) { s.dead = sink }
}

func WithObserver(o Observer) Option {
	return func(s *Synchronizer) { s.observer = o }
}

func WithIdentity(id Identity) Option {
	return func(s *Synchronizer) { s.identity = id }
}

func NewSynchronizer(hook Webhook, policy webclient.Policy, log *zap.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		hook:   hook,
		policy: policy,
		log:    logging.OrNop(log).Named("discord"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Post creates the pending card and returns its message id.
func (s *Synchronizer) Post(ctx context.Context, card Card) (string, error) {
	params := BuildCard(card, s.identity)
	sanitizeWebhookParams(params)

	var msg *discordgo.Message
	err := webclient.Do(ctx, s.policy, func(ctx context.Context) error {
		var err error
		msg, err = s.hook.Execute(ctx, params)
		return err
	})
	if err == nil && (msg == nil || msg.ID == "") {
		err = errors.New("webhook returned no message id")
	}
	s.observe("post", err)
	if err != nil {
		return "", fmt.Errorf("post card: %w", err)
	}
	return msg.ID, nil
}

// Transition rewrites the card behind messageRef to its terminal rendering.
// Failures are logged and dead-lettered; the returned error is informational.
func (s *Synchronizer) Transition(ctx context.Context, submissionID, messageRef string, outcome Outcome) error {
	log := s.log.With(
		zap.String("submission_id", submissionID),
		zap.String("message_ref", messageRef),
		zap.String("outcome", string(outcome)),
	)
	var err error
	if messageRef == "" {
		err = ErrNoCard
	} else {
		err = webclient.Do(ctx, s.policy, func(ctx context.Context) error {
			msg, err := s.hook.Message(ctx, messageRef)
			if err != nil {
				return err
			}
			edit, changed := Finalize(msg, outcome)
			if !changed {
				return nil
			}
			sanitizeWebhookEdit(edit)
			_, err = s.hook.Edit(ctx, messageRef, edit)
			return err
		})
	}
	s.observe("transition", err)
	if err == nil {
		return nil
	}

	log.Warn("card update failed", zap.String("collaborator", "discord"), zap.Error(err))
	if s.dead != nil {
		dl := data.DeadLetter{
			SubmissionID: submissionID,
			MessageRef:   messageRef,
			Outcome:      string(outcome),
			Error:        err.Error(),
		}
		// the request context may already be spent
		if derr := s.dead.Append(context.WithoutCancel(ctx), dl); derr != nil {
			log.Error("dead-letter append failed", zap.String("collaborator", "redis"), zap.Error(derr))
		}
	}
	return fmt.Errorf("transition card: %w", err)
}

func (s *Synchronizer) observe(op string, err error) {
	if s.observer != nil {
		s.observer.ObserveNotification(op, err)
	}
}
