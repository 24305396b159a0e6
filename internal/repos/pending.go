package repos

import (
	"context"
	"encoding/json"

	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/logger"
)

// PendingRepo holds the set of completed course ids not yet in any canonical
// goal. Stored as an ordered slice with set semantics.
type PendingRepo interface {
	Get(ctx context.Context) ([]string, error)
	Add(ctx context.Context, courseID string) error
	Remove(ctx context.Context, courseID string) error
	ReplaceAll(ctx context.Context, courseIDs []string) error
}

type pendingRepo struct {
	store kv.Store
	log   *logger.Logger
}

func NewPendingRepo(store kv.Store, baseLog *logger.Logger) PendingRepo {
	return &pendingRepo{store: store, log: baseLog.With("repo", "PendingRepo")}
}

func (r *pendingRepo) Get(ctx context.Context) ([]string, error) {
	raw, err := r.store.Load(ctx, kv.CollectionPendingCourses)
	if err != nil {
		return nil, err
	}
	var ids []string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (r *pendingRepo) save(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return r.store.Save(ctx, kv.CollectionPendingCourses, raw)
}

func (r *pendingRepo) Add(ctx context.Context, courseID string) error {
	ids, err := r.Get(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == courseID {
			return nil
		}
	}
	return r.save(ctx, append(ids, courseID))
}

func (r *pendingRepo) Remove(ctx context.Context, courseID string) error {
	ids, err := r.Get(ctx)
	if err != nil {
		return err
	}
	kept := ids[:0]
	removed := false
	for _, id := range ids {
		if id == courseID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	if !removed {
		return nil
	}
	return r.save(ctx, kept)
}

func (r *pendingRepo) ReplaceAll(ctx context.Context, courseIDs []string) error {
	return r.save(ctx, courseIDs)
}
