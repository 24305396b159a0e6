package repos

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/types"
)

type GoalRepo interface {
	GetAll(ctx context.Context) ([]*types.Goal, error)
	// ReplaceAll swaps the whole collection in one save; the regroup engine
	// applies its plan all-or-nothing.
	ReplaceAll(ctx context.Context, goals []*types.Goal) error
}

type goalRepo struct {
	store kv.Store
	log   *logger.Logger
}

func NewGoalRepo(store kv.Store, baseLog *logger.Logger) GoalRepo {
	return &goalRepo{store: store, log: baseLog.With("repo", "GoalRepo")}
}

func (r *goalRepo) GetAll(ctx context.Context) ([]*types.Goal, error) {
	raw, err := r.store.Load(ctx, kv.CollectionGoals)
	if err != nil {
		return nil, err
	}
	var goals []*types.Goal
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &goals); err != nil {
			return nil, err
		}
	}
	sort.Slice(goals, func(i, j int) bool { return goals[i].ID < goals[j].ID })
	return goals, nil
}

func (r *goalRepo) ReplaceAll(ctx context.Context, goals []*types.Goal) error {
	if goals == nil {
		goals = []*types.Goal{}
	}
	raw, err := json.Marshal(goals)
	if err != nil {
		return err
	}
	return r.store.Save(ctx, kv.CollectionGoals, raw)
}
