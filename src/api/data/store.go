package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
	"github.com/bigpicture/pujo-pictures/src/api/types"
)

const (
	submissionPrefix = "submission:"
	pendingQueueKey  = "unapproved_submissions"
	lockPrefix       = "lock:submission:"

	collaborator = "redis"
	maxTxRetries = 3
)

// Owner-checked release so an expired lock re-acquired by someone else is
// left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func submissionKey(id string) string { return submissionPrefix + id }

// ApprovedSetKey is the set of approved submission ids for a location.
func ApprovedSetKey(locationID string) string { return "pandal:" + locationID + ":photos" }

// SubmissionStore keeps submission records, the pending queue and the
// per-location approved sets in Redis. Every operation touches one key
// except Create, Approve and Remove, which pair the record with its queue
// and set entries in a MULTI block.
type SubmissionStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewSubmissionStore(rdb *redis.Client) *SubmissionStore {
	return &SubmissionStore{rdb: rdb, now: time.Now}
}

func (s *SubmissionStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *SubmissionStore) Get(ctx context.Context, id string) (types.Submission, error) {
	raw, err := s.rdb.Get(ctx, submissionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Submission{}, apperr.NotFound(id)
	}
	if err != nil {
		return types.Submission{}, apperr.Upstream("get submission", collaborator, id, err)
	}
	sub, err := types.Decode(raw)
	if err != nil {
		return types.Submission{}, apperr.Upstream("get submission", collaborator, id, err)
	}
	return sub, nil
}

// GetMany loads the records for ids, skipping ids that no longer exist.
func (s *SubmissionStore) GetMany(ctx context.Context, ids []string) ([]types.Submission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = submissionKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.Upstream("get submissions", collaborator, "", err)
	}
	out := make([]types.Submission, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		sub, err := types.Decode([]byte(str))
		if err != nil {
			return nil, apperr.Upstream("get submissions", collaborator, ids[i], err)
		}
		out = append(out, sub)
	}
	return out, nil
}

// Create writes a new pending record and pushes it onto the pending queue.
func (s *SubmissionStore) Create(ctx context.Context, sub types.Submission) (types.Submission, error) {
	now := s.now().UTC()
	sub.Status = types.StatusPending
	sub.Revision = 1
	sub.CreatedAt = now
	sub.UpdatedAt = now
	payload, err := types.Encode(sub)
	if err != nil {
		return types.Submission{}, apperr.Upstream("create submission", collaborator, sub.ID, err)
	}

	key := submissionKey(sub.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict(sub.ID, "submission already exists")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.LPush(ctx, pendingQueueKey, sub.ID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			return types.Submission{}, err
		}
		return types.Submission{}, apperr.Upstream("create submission", collaborator, sub.ID, err)
	}
	sub.Version = types.SchemaVersion
	return sub, nil
}

// Put overwrites the record if its stored revision still equals
// sub.Revision, and returns the record with the bumped revision.
func (s *SubmissionStore) Put(ctx context.Context, sub types.Submission) (types.Submission, error) {
	return s.commit(ctx, "put submission", sub, nil)
}

// Approve marks sub approved under the same revision check as Put and, in
// the same transaction, drops it from the pending queue and adds it to its
// location's approved set.
func (s *SubmissionStore) Approve(ctx context.Context, sub types.Submission) (types.Submission, error) {
	sub.Status = types.StatusApproved
	return s.commit(ctx, "approve submission", sub, func(pipe redis.Pipeliner) {
		pipe.LRem(ctx, pendingQueueKey, 0, sub.ID)
		pipe.SAdd(ctx, ApprovedSetKey(sub.LocationKey()), sub.ID)
	})
}

func (s *SubmissionStore) commit(ctx context.Context, op string, sub types.Submission, extra func(redis.Pipeliner)) (types.Submission, error) {
	key := submissionKey(sub.ID)
	var out types.Submission
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.current(ctx, tx, sub)
		if err != nil {
			return err
		}

		next := sub
		next.Revision = cur.Revision + 1
		next.UpdatedAt = s.now().UTC()
		payload, err := types.Encode(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}, key)
	if err := txError(op, sub.ID, err); err != nil {
		return types.Submission{}, err
	}
	out.Version = types.SchemaVersion
	return out, nil
}

// current loads the watched record and checks it is still at sub.Revision.
func (s *SubmissionStore) current(ctx context.Context, tx *redis.Tx, sub types.Submission) (types.Submission, error) {
	raw, err := tx.Get(ctx, submissionKey(sub.ID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Submission{}, apperr.NotFound(sub.ID)
	}
	if err != nil {
		return types.Submission{}, err
	}
	cur, err := types.Decode(raw)
	if err != nil {
		return types.Submission{}, err
	}
	if cur.Revision != sub.Revision {
		return types.Submission{}, apperr.Conflict(sub.ID, "submission was modified concurrently")
	}
	return cur, nil
}

func txError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return apperr.Conflict(id, "submission was modified concurrently")
	}
	if k := apperr.KindOf(err); k == apperr.KindNotFound || k == apperr.KindConflict {
		return err
	}
	return apperr.Upstream(op, collaborator, id, err)
}

// Update applies fn to the current record and writes it back, retrying
// when another writer got in between.
func (s *SubmissionStore) Update(ctx context.Context, id string, fn func(*types.Submission) error) (types.Submission, error) {
	var lastErr error
	for i := 0; i < maxTxRetries; i++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return types.Submission{}, err
		}
		if err := fn(&cur); err != nil {
			return types.Submission{}, err
		}
		out, err := s.Put(ctx, cur)
		if err == nil {
			return out, nil
		}
		if apperr.KindOf(err) != apperr.KindConflict {
			return types.Submission{}, err
		}
		lastErr = err
	}
	return types.Submission{}, lastErr
}

// Delete drops only the record key. Queue and set entries are untouched.
func (s *SubmissionStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, submissionKey(id)).Err(); err != nil {
		return apperr.Upstream("delete submission", collaborator, id, err)
	}
	return nil
}

// Remove deletes the record and its pending queue entry together. The
// stored record must still be pending at sub.Revision; a record that moved
// on yields Conflict and a missing one NotFound.
func (s *SubmissionStore) Remove(ctx context.Context, sub types.Submission) error {
	key := submissionKey(sub.ID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.current(ctx, tx, sub)
		if err != nil {
			return err
		}
		if !cur.IsPending() {
			return apperr.Conflict(sub.ID, "submission is no longer pending")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.LRem(ctx, pendingQueueKey, 0, sub.ID)
			return nil
		})
		return err
	}, key)
	return txError("remove submission", sub.ID, err)
}

// PushPending puts id at the head of the pending queue.
func (s *SubmissionStore) PushPending(ctx context.Context, id string) error {
	if err := s.rdb.LPush(ctx, pendingQueueKey, id).Err(); err != nil {
		return apperr.Upstream("push pending", collaborator, id, err)
	}
	return nil
}

// RemovePending drops id from the pending queue. Absent ids are a no-op.
func (s *SubmissionStore) RemovePending(ctx context.Context, id string) error {
	if err := s.rdb.LRem(ctx, pendingQueueKey, 0, id).Err(); err != nil {
		return apperr.Upstream("remove pending", collaborator, id, err)
	}
	return nil
}

// PendingIDs lists the queue, newest first.
func (s *SubmissionStore) PendingIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.LRange(ctx, pendingQueueKey, 0, -1).Result()
	if err != nil {
		return nil, apperr.Upstream("list pending", collaborator, "", err)
	}
	return ids, nil
}

func (s *SubmissionStore) AddApproved(ctx context.Context, locationID, id string) error {
	if err := s.rdb.SAdd(ctx, ApprovedSetKey(locationID), id).Err(); err != nil {
		return apperr.Upstream("add approved", collaborator, id, err)
	}
	return nil
}

func (s *SubmissionStore) ApprovedIDs(ctx context.Context, locationID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, ApprovedSetKey(locationID)).Result()
	if err != nil {
		return nil, apperr.Upstream("list approved", collaborator, "", err)
	}
	return ids, nil
}

// Lock takes the per-submission advisory lock for ttl. A held lock yields
// a Conflict error. The returned release is safe to call after expiry.
func (s *SubmissionStore) Lock(ctx context.Context, id string, ttl time.Duration) (func(context.Context) error, error) {
	owner := uuid.NewString()
	key := lockPrefix + id
	ok, err := s.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, apperr.Upstream("lock submission", collaborator, id, err)
	}
	if !ok {
		return nil, apperr.Conflict(id, "another moderation action is in progress")
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, s.rdb, []string{key}, owner).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}
