package kv

import (
	"context"
	"errors"
	"strings"

	"github.com/yungbote/loom-backend/internal/logger"
)

// Collection names. One load/save pair per collection; no multi-key
// transactions, so callers must order writes to keep invariants recoverable
// by the reconciler if the process dies mid-sequence.
const (
	CollectionOutlines        = "outlines"
	CollectionCourses         = "courses"
	CollectionGoals           = "goals"
	CollectionPendingCourses  = "pendingCourses"
	CollectionGenerationFlags = "generationFlags"
	CollectionPrefetched      = "prefetchedCourses"
	CollectionConversations   = "conversations"
)

// ErrStorageFull is returned after a cleanup-and-retry cycle still cannot
// save. The message is user-actionable by design.
var ErrStorageFull = errors.New("storage is full: free up space and try again")

// Store is the persistence port. Load returns nil with no error for a
// collection that has never been saved.
type Store interface {
	Load(ctx context.Context, collection string) ([]byte, error)
	Save(ctx context.Context, collection string, value []byte) error
}

// quotaGuard wraps a Store with the quota recovery policy: on a save error
// that looks like storage exhaustion, drop the prefetch cache and retry once.
// A second failure surfaces as ErrStorageFull.
type quotaGuard struct {
	inner Store
	log   *logger.Logger
}

func WithQuotaGuard(inner Store, log *logger.Logger) Store {
	return &quotaGuard{inner: inner, log: log.With("component", "kv.quotaGuard")}
}

func (q *quotaGuard) Load(ctx context.Context, collection string) ([]byte, error) {
	return q.inner.Load(ctx, collection)
}

func (q *quotaGuard) Save(ctx context.Context, collection string, value []byte) error {
	err := q.inner.Save(ctx, collection, value)
	if err == nil || !looksLikeQuotaError(err) {
		return err
	}
	q.log.Warn("save hit storage quota, dropping prefetch cache and retrying", "collection", collection, "error", err)
	if cleanupErr := q.inner.Save(ctx, CollectionPrefetched, []byte(`{}`)); cleanupErr != nil {
		q.log.Error("prefetch cache cleanup failed", "error", cleanupErr)
	}
	if retryErr := q.inner.Save(ctx, collection, value); retryErr != nil {
		return ErrStorageFull
	}
	return nil
}

func looksLikeQuotaError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pat := range []string{"quota", "disk full", "no space", "database or disk is full", "out of memory"} {
		if strings.Contains(msg, pat) {
			return true
		}
	}
	return false
}
