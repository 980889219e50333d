package feature

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/metrics"
	"github.com/heremaps/xyz-hub-sub003/internal/modify"
	"github.com/heremaps/xyz-hub-sub003/internal/pipeline"
	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// ModifyParams are the options of a feature write.
type ModifyParams struct {
	TenantID string
	SpaceID  string
	// Defaults are the policies of the route; the selectors below override them.
	Defaults           modify.Policies
	IfExists           string
	IfNotExists        string
	ConflictResolution string
	Transactional      bool
	// AddTags and RemoveTags must already be normalized.
	AddTags    []string
	RemoveTags []string
	// PrefixID is prepended to every feature id. Features without id get a
	// random one, prefixed with the space's PrefixID.
	PrefixID string
	BodySize int64
	// RequireExisting answers 404 when the first feature is not stored.
	RequireExisting bool
}

// ConditionalTask is a feature write in progress.
type ConditionalTask struct {
	*pipeline.Task[*domain.ModifyRequest]
	Params ModifyParams

	logger *slog.Logger
	space  *domain.Space
	store  ports.FeatureStore
	op     *modify.Op[domain.Feature]

	write      ports.WriteRequest
	failed     []domain.ModificationFailure
	unmodified []*domain.Feature
	positions  map[string]int
	response   *domain.FeatureCollection

	memMu      sync.Mutex
	memStorage string
	memBytes   int64
}

// NewConditionalTask creates the task for one write request.
func (s *Service) NewConditionalTask(params ModifyParams, req *domain.ModifyRequest) *ConditionalTask {
	id := uuid.NewString()
	logger := s.logger.With(slog.String("space", params.SpaceID))
	return &ConditionalTask{
		Task:   pipeline.NewTask(id, req, logger),
		Params: params,
		logger: logger.With(slog.String("task_id", id)),
	}
}

// Op returns the modify operation once it was prepared.
func (t *ConditionalTask) Op() *modify.Op[domain.Feature] { return t.op }

// holdMemory registers the request body against storageID unless the task
// already ended.
func (t *ConditionalTask) holdMemory(mem ports.RequestMemory, storageID string, n int64) {
	t.memMu.Lock()
	defer t.memMu.Unlock()
	if t.IsFinal() || n <= 0 {
		return
	}
	mem.Register(storageID, n)
	t.memStorage, t.memBytes = storageID, n
}

func (t *ConditionalTask) releaseMemory(mem ports.RequestMemory) {
	t.memMu.Lock()
	storageID, n := t.memStorage, t.memBytes
	t.memBytes = 0
	t.memMu.Unlock()
	if n > 0 {
		mem.Deregister(storageID, n)
	}
}

// Modify runs a conditional write. When ctx ends before the pipeline
// completed, the task is cancelled and a cancellation error is returned.
func (s *Service) Modify(ctx context.Context, params ModifyParams, req *domain.ModifyRequest) (*domain.FeatureCollection, error) {
	t := s.NewConditionalTask(params, req)
	done := make(chan outcome, 1)
	p, err := s.conditionalPipeline(t, done)
	if err != nil {
		return nil, err
	}
	t.Attach(p)
	if s.memory != nil {
		t.AddCancellingHandler(func() { t.releaseMemory(s.memory) })
	}
	t.SetState(pipeline.TaskStarted)
	if err := p.Execute(ctx); err != nil {
		return nil, err
	}
	return await(ctx, t.Task, done)
}

func (s *Service) conditionalPipeline(t *ConditionalTask, done chan<- outcome) (*pipeline.Pipeline[*ConditionalTask], error) {
	p := pipeline.New("conditional_operation", t, s.pipelineOptions(t.logger)...)
	steps := []struct {
		name string
		fn   pipeline.StepFunc[*ConditionalTask]
	}{
		{"resolve_space", s.resolveWriteSpace},
		{"register_request_memory", s.registerRequestMemory},
		{"throttle", s.throttle},
		{"prepare_modify_op", s.prepareModifyOp},
		{"preprocess", s.preprocess},
		{"load_objects", s.loadObjects},
		{"verify_resource_exists", s.verifyResourceExists},
		{"verify_max_features", s.verifyMaxFeatures},
		{"update_tags", s.updateTags},
		{"process_conditional_op", s.processConditionalOp},
		{"write_features", s.writeFeatures},
	}
	for _, st := range steps {
		if err := p.Then(st.name, st.fn); err != nil {
			return nil, err
		}
	}
	if err := p.OnSuccess(func(t *ConditionalTask) {
		t.SetState(pipeline.TaskResponseSent)
		if s.memory != nil {
			t.releaseMemory(s.memory)
		}
		done <- outcome{response: t.response}
	}); err != nil {
		return nil, err
	}
	if err := p.OnError(func(t *ConditionalTask, err error) {
		t.SetState(pipeline.TaskError)
		if s.memory != nil {
			t.releaseMemory(s.memory)
		}
		done <- outcome{err: s.report(t.logger, err)}
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// report classifies a pipeline error and logs it at a level matching its
// status.
func (s *Service) report(logger *slog.Logger, err error) error {
	apiErr := domain.FromError(err)
	if apiErr.HTTPStatusCode() >= 500 && apiErr.Type != domain.ErrorTypeCancelled {
		logger.Error("feature task failed", slog.String("error", err.Error()))
	} else {
		logger.Debug("feature task rejected", slog.String("error", err.Error()))
	}
	return apiErr
}

func (s *Service) resolveWriteSpace(ctx context.Context, t *ConditionalTask, _ *pipeline.Callback) pipeline.Result {
	space, store, err := s.resolveSpace(ctx, t.Params.TenantID, t.Params.SpaceID, true)
	if err != nil {
		return pipeline.Fail(err)
	}
	t.space, t.store = space, store
	return pipeline.Continue()
}

func (s *Service) registerRequestMemory(_ context.Context, t *ConditionalTask, _ *pipeline.Callback) pipeline.Result {
	if s.memory != nil {
		t.holdMemory(s.memory, t.space.StorageID(), t.Params.BodySize)
	}
	return pipeline.Continue()
}

func (s *Service) throttle(_ context.Context, t *ConditionalTask, _ *pipeline.Callback) pipeline.Result {
	if s.memory == nil {
		return pipeline.Continue()
	}
	if err := s.memory.Throttle(t.space.StorageID()); err != nil {
		t.logger.Warn("throttling request", slog.String("storage", t.space.StorageID()))
		return pipeline.Fail(domain.ErrTooManyRequests("Too many requests for the storage.").
			WithCode(domain.ErrorCodeMemoryExhausted).WithCause(err))
	}
	return pipeline.Continue()
}

func (s *Service) prepareModifyOp(_ context.Context, t *ConditionalTask, _ *pipeline.Callback) pipeline.Result {
	t.SetState(pipeline.TaskInProgress)
	req, err := t.ConsumeEvent()
	if err != nil {
		return pipeline.Fail(err)
	}
	if req == nil {
		return pipeline.Fail(domain.ErrInvalidRequest("The request does not contain a feature collection."))
	}
	policies, err := t.Params.Defaults.Override(t.Params.IfExists, t.Params.IfNotExists, t.Params.ConflictResolution)
	if err != nil {
		return pipeline.Fail(err)
	}

	entries := make([]*modify.Entry[domain.Feature], 0, len(req.Features))
	for i, f := range req.Features {
		if f == nil {
			return pipeline.Fail(domain.ErrInvalidRequest(fmt.Sprintf("The feature at position %d is empty.", i)))
		}
		entries = append(entries, modify.NewEntry[domain.Feature](Codec{}, f.Object, policies))
	}
	t.op = modify.NewOp(entries, t.Params.Transactional)
	return pipeline.Continue()
}

func (s *Service) preprocess(_ context.Context, t *ConditionalTask, _ *pipeline.Callback) pipeline.Result {
	t.positions = make(map[string]int, len(t.op.Entries))
	for _, e := range t.op.Entries {
		if id, ok := e.Input["id"].(value.String); ok && id == "" {
			return pipeline.Fail(domain.ErrInvalidRequest("Minimum length of object id should be 1.").WithParam("id"))
		}
		id := e.ID
		if id == "" {
			id = t.space.PrefixID + s.newID()
		}
		id = t.Params.PrefixID + id
		e.Input["id"] = value.String(id)
		e.ID = id

		if _, ok := e.Input["type"]; !ok {
			e.Input["type"] = value.String("Feature")
		}
		// bbox is derived from the geometry
		delete(e.Input, "bbox")

		props, ok := e.Input["properties"].(value.Object)
		if !ok {
			props = value.Object{}
			e.Input["properties"] = props
		}
		if _, ok := props[domain.NamespaceKey].(value.Object); !ok {
			props[domain.NamespaceKey] = value.Object{}
		}
		t.positions[id] = e.Position
	}

	if err := modify.ValidateIDs(t.op.Entries); err != nil {
		return pipeline.Fail(domain.ErrInvalidRequest(err.Error()).WithCode(domain.ErrorCodeDuplicateID).WithCause(err))
	}
	return pipeline.Continue()
}

func (s *Service) loadObjects(ctx context.Context, t *ConditionalTask, cb *pipeline.Callback) pipeline.Result {
	if len(t.op.Entries) == 0 {
		return pipeline.Continue()
	}
	heads := make([]ports.FeatureRef, 0, len(t.op.Entries))
	var bases []ports.FeatureRef
	for _, e := range t.op.Entries {
		heads = append(heads, ports.Head(e.ID))
		if t.space.EnableHistory && e.InputVersion != modify.NoVersion {
			bases = append(bases, ports.FeatureRef{ID: e.ID, Version: e.InputVersion})
		}
	}

	loadCtx, cancel := context.WithCancel(ctx)
	store, spaceID := t.store, t.space.ID
	go func() {
		defer cancel()
		found, err := store.LoadFeatures(loadCtx, spaceID, heads)
		var older []*domain.Feature
		if err == nil && len(bases) > 0 {
			older, err = store.LoadFeatures(loadCtx, spaceID, bases)
		}
		if t.IsFinal() {
			return
		}
		if err != nil {
			cb.Fail(fmt.Errorf("failed to load features: %w", err))
			return
		}
		t.assignStates(found, older)
		cb.Success()
	}()
	return pipeline.Suspend(cancel)
}

// assignStates sets the head of every entry and, where the caller edited an
// older version, its base.
func (t *ConditionalTask) assignStates(heads, bases []*domain.Feature) {
	byID := make(map[string]*modify.Entry[domain.Feature], len(t.op.Entries))
	for _, e := range t.op.Entries {
		byID[e.ID] = e
	}
	for _, f := range heads {
		if e, ok := byID[f.ID()]; ok {
			e.Head = f
		}
	}
	for _, f := range bases {
		if e, ok := byID[f.ID()]; ok && e.Head != nil && f.Version() != e.Head.Version() {
			e.Base = f
		}
	}
}

func (s *Service) verifyResourceExists(_ context.Context, t *ConditionalTask, _ *pipeline.Callback) pipeline.Result {
	if t.Params.RequireExisting && len(t.op.Entries) > 0 && t.op.Entries[0].Head == nil {
		return pipeline.Fail(domain.ErrNotFound("The requested resource does not exist.").WithCode(domain.ErrorCodeFeatureNotFound))
	}
	return pipeline.Continue()
}

func (s *Service) verifyMaxFeatures(ctx context.Context, t *ConditionalTask, _ *pipeline.Callback) pipeline.Result {
	limit := t.space.MaxFeatures
	if limit <= 0 {
		return pipeline.Continue()
	}
	var delta int64
	for _, e := range t.op.Entries {
		switch {
		case e.Head == nil && e.IfNotExists == modify.IfNotExistsCreate:
			delta++
		case e.Head != nil && e.IfExists == modify.IfExistsDelete:
			delta--
		}
	}
	if delta <= 0 {
		return pipeline.Continue()
	}
	count, err := t.store.CountFeatures(ctx, t.space.ID)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("failed to count features: %w", err))
	}
	if count+delta > limit {
		return pipeline.Fail(domain.ErrForbidden(fmt.Sprintf(
			"The maximum number of %d features for the resource %q was reached. The resource contains %d features and cannot store %d more features.",
			limit, t.space.ID, count, delta)).WithCode(domain.ErrorCodeMaxFeatures))
	}
	return pipeline.Continue()
}

// updateTags gives every input its final tag list: the caller's tags, or
// those of the edited state when the input has none, plus AddTags and minus
// RemoveTags.
func (s *Service) updateTags(_ context.Context, t *ConditionalTask, _ *pipeline.Callback) pipeline.Result {
	for _, e := range t.op.Entries {
		ns, _ := e.Input.GetObject("properties", domain.NamespaceKey)
		var tags []string
		if arr, ok := ns["tags"].(value.Array); ok {
			tags = value.Strings(arr)
		} else if edited := editedState(e); edited != nil {
			tags = edited.Tags()
		}
		tags = NormalizeTags(tags)
		for _, tag := range t.Params.AddTags {
			if !slices.Contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
		for _, tag := range t.Params.RemoveTags {
			tags = slices.DeleteFunc(tags, func(x string) bool { return x == tag })
		}
		if tags == nil {
			tags = []string{}
		}
		ns["tags"] = value.StringArray(tags)
	}
	return pipeline.Continue()
}

func editedState(e *modify.Entry[domain.Feature]) *domain.Feature {
	if e.Base != nil {
		return e.Base
	}
	return e.Head
}

func (s *Service) processConditionalOp(_ context.Context, t *ConditionalTask, _ *pipeline.Callback) pipeline.Result {
	if err := t.op.Process(); err != nil {
		return pipeline.Fail(err)
	}

	now := s.now().UnixMilli()
	t.write.ExpectedVersions = make(map[string]int64)
	for _, e := range t.op.Entries {
		metrics.ModifyEntries.WithLabelValues("feature", e.Outcome.String()).Inc()
		if e.Err != nil {
			t.failed = append(t.failed, domain.ModificationFailure{ID: e.ID, Position: e.Position, Message: e.Err.Error()})
			continue
		}
		if !e.IsModified {
			// a retried write against a record that is already gone leaves no trace
			if e.Head != nil && e.Result != nil {
				t.unmodified = append(t.unmodified, e.Head)
			}
			continue
		}
		switch {
		case e.Result != nil:
			insert := e.Head == nil
			t.stampNamespace(e, insert, now)
			if insert {
				t.write.Inserts = append(t.write.Inserts, e.Result)
			} else {
				t.write.Updates = append(t.write.Updates, e.Result)
				t.write.ExpectedVersions[e.ID] = e.Head.Version()
			}
		case e.Head != nil:
			t.write.Deletes = append(t.write.Deletes, e.Head)
			t.write.ExpectedVersions[e.ID] = e.Head.Version()
		}
	}

	if len(t.write.Inserts)+len(t.write.Updates)+len(t.write.Deletes) == 0 {
		t.response = &domain.FeatureCollection{Features: t.unmodified, Failed: t.failed}
	}
	return pipeline.Continue()
}

// stampNamespace writes the hub metadata of a record about to be stored.
func (t *ConditionalTask) stampNamespace(e *modify.Entry[domain.Feature], insert bool, now int64) {
	ns := domain.Namespace{
		Space:     t.space.ID,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      NormalizeTags(e.Result.Tags()),
		Version:   domain.NoVersion,
	}
	if !insert {
		ns.CreatedAt = e.Head.Namespace().CreatedAt
	}
	if t.space.EnableUUID {
		ns.UUID = uuid.NewString()
		if !insert {
			ns.PUUID = e.Head.UUID()
			if e.Base != nil && e.Base.UUID() != e.Head.UUID() {
				ns.MUUID = e.Base.UUID()
			}
		}
	}
	e.Result.SetNamespace(ns)
}

func (s *Service) writeFeatures(ctx context.Context, t *ConditionalTask, cb *pipeline.Callback) pipeline.Result {
	if t.response != nil || !t.op.IsWrite() {
		if t.response == nil {
			t.response = &domain.FeatureCollection{Features: t.unmodified, Failed: t.failed}
		}
		return pipeline.Continue()
	}

	req := t.write
	req.SpaceID = t.space.ID
	req.History = t.space.EnableHistory
	req.Atomic = t.Params.Transactional

	writeCtx, cancel := context.WithCancel(ctx)
	store := t.store
	go func() {
		defer cancel()
		res, err := store.WriteFeatures(writeCtx, &req)
		if t.IsFinal() {
			return
		}
		if err != nil {
			cb.Fail(fmt.Errorf("failed to write features: %w", err))
			return
		}
		if req.Atomic && len(res.Failed) > 0 {
			cb.Fail(domain.ErrConflict(res.Failed[0].Message).WithCode(domain.ErrorCodeModifyNotAllowed))
			return
		}
		t.response = t.collect(res)
		cb.Success()
	}()
	return pipeline.Suspend(cancel)
}

// collect folds the store's answer and the failed entries into the response.
func (t *ConditionalTask) collect(res *ports.WriteResult) *domain.FeatureCollection {
	fc := &domain.FeatureCollection{Failed: t.failed}
	for _, f := range res.Inserted {
		fc.Features = append(fc.Features, f)
		fc.Inserted = append(fc.Inserted, f.ID())
	}
	for _, f := range res.Updated {
		fc.Features = append(fc.Features, f)
		fc.Updated = append(fc.Updated, f.ID())
	}
	fc.Features = append(fc.Features, t.unmodified...)
	fc.Deleted = res.Deleted
	for _, f := range res.Failed {
		fc.Failed = append(fc.Failed, domain.ModificationFailure{ID: f.ID, Position: t.positions[f.ID], Message: f.Message})
	}
	return fc
}
