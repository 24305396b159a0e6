package repos

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/types"
)

// OutlineRepo is accessors only; status rules live in the services layer.
type OutlineRepo interface {
	GetAll(ctx context.Context) ([]*types.Outline, error)
	GetByID(ctx context.Context, id string) (*types.Outline, error)
	Put(ctx context.Context, outline *types.Outline) error
	PutAll(ctx context.Context, outlines []*types.Outline) error
	Delete(ctx context.Context, id string) error
	DeleteWhereStatus(ctx context.Context, status types.Status) (int, error)
}

type outlineRepo struct {
	store kv.Store
	log   *logger.Logger
}

func NewOutlineRepo(store kv.Store, baseLog *logger.Logger) OutlineRepo {
	return &outlineRepo{store: store, log: baseLog.With("repo", "OutlineRepo")}
}

func (r *outlineRepo) load(ctx context.Context) (map[string]*types.Outline, error) {
	raw, err := r.store.Load(ctx, kv.CollectionOutlines)
	if err != nil {
		return nil, err
	}
	outlines := make(map[string]*types.Outline)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &outlines); err != nil {
			return nil, err
		}
	}
	return outlines, nil
}

func (r *outlineRepo) save(ctx context.Context, outlines map[string]*types.Outline) error {
	raw, err := json.Marshal(outlines)
	if err != nil {
		return err
	}
	return r.store.Save(ctx, kv.CollectionOutlines, raw)
}

func (r *outlineRepo) GetAll(ctx context.Context) ([]*types.Outline, error) {
	outlines, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]*types.Outline, 0, len(outlines))
	for _, o := range outlines {
		results = append(results, o)
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

func (r *outlineRepo) GetByID(ctx context.Context, id string) (*types.Outline, error) {
	outlines, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return outlines[id], nil
}

func (r *outlineRepo) Put(ctx context.Context, outline *types.Outline) error {
	outlines, err := r.load(ctx)
	if err != nil {
		return err
	}
	outlines[outline.ID] = outline
	return r.save(ctx, outlines)
}

func (r *outlineRepo) PutAll(ctx context.Context, toPut []*types.Outline) error {
	if len(toPut) == 0 {
		return nil
	}
	outlines, err := r.load(ctx)
	if err != nil {
		return err
	}
	for _, o := range toPut {
		outlines[o.ID] = o
	}
	return r.save(ctx, outlines)
}

func (r *outlineRepo) Delete(ctx context.Context, id string) error {
	outlines, err := r.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := outlines[id]; !ok {
		return nil
	}
	delete(outlines, id)
	return r.save(ctx, outlines)
}

func (r *outlineRepo) DeleteWhereStatus(ctx context.Context, status types.Status) (int, error) {
	outlines, err := r.load(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for id, o := range outlines {
		if o.Status == status {
			delete(outlines, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, r.save(ctx, outlines)
}
