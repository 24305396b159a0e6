package repos

import (
	"context"
	"encoding/json"

	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/types"
)

// PrefetchRepo caches speculative course drafts keyed by course id. Consumed
// and removed by start-course adoption; never the system of record.
type PrefetchRepo interface {
	Get(ctx context.Context, courseID string) (*types.Course, error)
	Put(ctx context.Context, draft *types.Course) error
	Delete(ctx context.Context, courseID string) error
}

type prefetchRepo struct {
	store kv.Store
	log   *logger.Logger
}

func NewPrefetchRepo(store kv.Store, baseLog *logger.Logger) PrefetchRepo {
	return &prefetchRepo{store: store, log: baseLog.With("repo", "PrefetchRepo")}
}

func (r *prefetchRepo) load(ctx context.Context) (map[string]*types.Course, error) {
	raw, err := r.store.Load(ctx, kv.CollectionPrefetched)
	if err != nil {
		return nil, err
	}
	drafts := make(map[string]*types.Course)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &drafts); err != nil {
			return nil, err
		}
	}
	return drafts, nil
}

func (r *prefetchRepo) save(ctx context.Context, drafts map[string]*types.Course) error {
	raw, err := json.Marshal(drafts)
	if err != nil {
		return err
	}
	return r.store.Save(ctx, kv.CollectionPrefetched, raw)
}

func (r *prefetchRepo) Get(ctx context.Context, courseID string) (*types.Course, error) {
	drafts, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return drafts[courseID], nil
}

func (r *prefetchRepo) Put(ctx context.Context, draft *types.Course) error {
	drafts, err := r.load(ctx)
	if err != nil {
		return err
	}
	drafts[draft.ID] = draft
	return r.save(ctx, drafts)
}

func (r *prefetchRepo) Delete(ctx context.Context, courseID string) error {
	drafts, err := r.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := drafts[courseID]; !ok {
		return nil
	}
	delete(drafts, courseID)
	return r.save(ctx, drafts)
}
