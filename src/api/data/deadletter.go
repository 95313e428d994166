package data

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const deadLetterStream = "notifications.deadletter"

// DeadLetter is a notification edit that ran out of retries.
type DeadLetter struct {
	StreamID     string
	SubmissionID string
	MessageRef   string
	Outcome      string
	Error        string
	FailedAt     time.Time
}

// DeadLetters appends failed notification edits to a Redis stream so they
// can be replayed by hand.
type DeadLetters struct {
	rdb    *redis.Client
	maxLen int64
}

func NewDeadLetters(rdb *redis.Client) *DeadLetters {
	return &DeadLetters{rdb: rdb, maxLen: 10000}
}

func (d *DeadLetters) Append(ctx context.Context, dl DeadLetter) error {
	if dl.FailedAt.IsZero() {
		dl.FailedAt = time.Now()
	}
	_, err := d.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: deadLetterStream,
		MaxLen: d.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"submission_id": dl.SubmissionID,
			"message_ref":   dl.MessageRef,
			"outcome":       dl.Outcome,
			"error":         dl.Error,
			"failed_at":     dl.FailedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	return err
}

// List returns up to count entries, oldest first.
func (d *DeadLetters) List(ctx context.Context, count int64) ([]DeadLetter, error) {
	msgs, err := d.rdb.XRangeN(ctx, deadLetterStream, "-", "+", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		dl := DeadLetter{
			StreamID:     m.ID,
			SubmissionID: str(m.Values["submission_id"]),
			MessageRef:   str(m.Values["message_ref"]),
			Outcome:      str(m.Values["outcome"]),
			Error:        str(m.Values["error"]),
		}
		if ts, err := time.Parse(time.RFC3339Nano, str(m.Values["failed_at"])); err == nil {
			dl.FailedAt = ts
		}
		out = append(out, dl)
	}
	return out, nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
