package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/types"
)

type CourseRepo interface {
	GetAll(ctx context.Context) ([]*types.Course, error)
	GetByID(ctx context.Context, id string) (*types.Course, error)
	Put(ctx context.Context, course *types.Course) error
	Delete(ctx context.Context, id string) error
	SetModuleProgress(ctx context.Context, courseID, moduleID string, progress types.ModuleProgress) error
}

type courseRepo struct {
	store kv.Store
	log   *logger.Logger
}

func NewCourseRepo(store kv.Store, baseLog *logger.Logger) CourseRepo {
	return &courseRepo{store: store, log: baseLog.With("repo", "CourseRepo")}
}

func (r *courseRepo) load(ctx context.Context) (map[string]*types.Course, error) {
	raw, err := r.store.Load(ctx, kv.CollectionCourses)
	if err != nil {
		return nil, err
	}
	courses := make(map[string]*types.Course)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &courses); err != nil {
			return nil, err
		}
	}
	return courses, nil
}

func (r *courseRepo) save(ctx context.Context, courses map[string]*types.Course) error {
	raw, err := json.Marshal(courses)
	if err != nil {
		return err
	}
	return r.store.Save(ctx, kv.CollectionCourses, raw)
}

func (r *courseRepo) GetAll(ctx context.Context) ([]*types.Course, error) {
	courses, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]*types.Course, 0, len(courses))
	for _, c := range courses {
		results = append(results, c)
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

func (r *courseRepo) GetByID(ctx context.Context, id string) (*types.Course, error) {
	courses, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return courses[id], nil
}

func (r *courseRepo) Put(ctx context.Context, course *types.Course) error {
	courses, err := r.load(ctx)
	if err != nil {
		return err
	}
	courses[course.ID] = course
	return r.save(ctx, courses)
}

func (r *courseRepo) Delete(ctx context.Context, id string) error {
	courses, err := r.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := courses[id]; !ok {
		return nil
	}
	delete(courses, id)
	return r.save(ctx, courses)
}

func (r *courseRepo) SetModuleProgress(ctx context.Context, courseID, moduleID string, progress types.ModuleProgress) error {
	courses, err := r.load(ctx)
	if err != nil {
		return err
	}
	course, ok := courses[courseID]
	if !ok {
		return fmt.Errorf("course %s not found", courseID)
	}
	if course.ProgressByModule == nil {
		course.ProgressByModule = make(map[string]types.ModuleProgress)
	}
	course.ProgressByModule[moduleID] = progress
	return r.save(ctx, courses)
}
