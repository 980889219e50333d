package feature

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/pipeline"
)

// ReadParams select the features of a read.
type ReadParams struct {
	TenantID string
	SpaceID  string
	// RequireExisting answers 404 when none of the features is stored.
	RequireExisting bool
}

// ReadTask is a feature read in progress. Its event is the list of ids.
type ReadTask struct {
	*pipeline.Task[[]string]
	Params ReadParams

	logger   *slog.Logger
	space    *domain.Space
	store    ports.FeatureStore
	found    []*domain.Feature
	response *domain.FeatureCollection
}

// GetFeatures returns the current state of the features with the given ids,
// in request order. Unknown ids are skipped.
func (s *Service) GetFeatures(ctx context.Context, params ReadParams, ids []string) (*domain.FeatureCollection, error) {
	id := uuid.NewString()
	logger := s.logger.With(slog.String("space", params.SpaceID), slog.String("task_id", id))
	t := &ReadTask{Task: pipeline.NewTask(id, ids, logger), Params: params, logger: logger}

	done := make(chan outcome, 1)
	p := pipeline.New("get_features", t, s.pipelineOptions(logger)...)
	for _, st := range []struct {
		name string
		fn   pipeline.StepFunc[*ReadTask]
	}{
		{"resolve_space", s.resolveReadSpace},
		{"load_features", s.loadFeatures},
		{"respond", s.respond},
	} {
		if err := p.Then(st.name, st.fn); err != nil {
			return nil, err
		}
	}
	if err := p.OnSuccess(func(t *ReadTask) {
		t.SetState(pipeline.TaskResponseSent)
		done <- outcome{response: t.response}
	}); err != nil {
		return nil, err
	}
	if err := p.OnError(func(t *ReadTask, err error) {
		t.SetState(pipeline.TaskError)
		done <- outcome{err: s.report(t.logger, err)}
	}); err != nil {
		return nil, err
	}

	t.Attach(p)
	t.SetState(pipeline.TaskStarted)
	if err := p.Execute(ctx); err != nil {
		return nil, err
	}
	return await(ctx, t.Task, done)
}

func (s *Service) resolveReadSpace(ctx context.Context, t *ReadTask, _ *pipeline.Callback) pipeline.Result {
	space, store, err := s.resolveSpace(ctx, t.Params.TenantID, t.Params.SpaceID, false)
	if err != nil {
		return pipeline.Fail(err)
	}
	t.space, t.store = space, store
	return pipeline.Continue()
}

func (s *Service) loadFeatures(ctx context.Context, t *ReadTask, cb *pipeline.Callback) pipeline.Result {
	t.SetState(pipeline.TaskInProgress)
	ids, err := t.ConsumeEvent()
	if err != nil {
		return pipeline.Fail(err)
	}
	if len(ids) == 0 {
		return pipeline.Continue()
	}
	refs := make([]ports.FeatureRef, len(ids))
	for i, id := range ids {
		refs[i] = ports.Head(id)
	}

	loadCtx, cancel := context.WithCancel(ctx)
	store, spaceID := t.store, t.space.ID
	go func() {
		defer cancel()
		found, err := store.LoadFeatures(loadCtx, spaceID, refs)
		if t.IsFinal() {
			return
		}
		if err != nil {
			cb.Fail(fmt.Errorf("failed to load features: %w", err))
			return
		}
		t.found = orderByIDs(found, ids)
		cb.Success()
	}()
	return pipeline.Suspend(cancel)
}

func (s *Service) respond(_ context.Context, t *ReadTask, _ *pipeline.Callback) pipeline.Result {
	if t.Params.RequireExisting && len(t.found) == 0 {
		return pipeline.Fail(domain.ErrNotFound("The requested resource does not exist.").WithCode(domain.ErrorCodeFeatureNotFound))
	}
	t.response = &domain.FeatureCollection{Features: t.found}
	return pipeline.Continue()
}

func orderByIDs(features []*domain.Feature, ids []string) []*domain.Feature {
	byID := make(map[string]*domain.Feature, len(features))
	for _, f := range features {
		byID[f.ID()] = f
	}
	out := make([]*domain.Feature, 0, len(features))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
			delete(byID, id)
		}
	}
	return out
}
