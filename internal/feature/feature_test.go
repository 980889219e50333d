package feature

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/inflight"
	"github.com/heremaps/xyz-hub-sub003/internal/modify"
	"github.com/heremaps/xyz-hub-sub003/internal/storage"
	"github.com/heremaps/xyz-hub-sub003/internal/storage/memory"
)

type spaces map[string]*domain.Space

func (s spaces) GetSpace(_ context.Context, id string) (*domain.Space, error) {
	space, ok := s[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return space, nil
}

var clock = time.UnixMilli(1_700_000_000_000)

type fixture struct {
	svc     *Service
	store   *memory.Store
	tracker *inflight.Tracker
}

func newFixture(t *testing.T, space *domain.Space, store ports.FeatureStore) *fixture {
	t.Helper()
	mem := memory.New()
	if store == nil {
		store = mem
	}
	reg := storage.NewRegistry()
	reg.Register(storage.DefaultID, store)
	tracker := inflight.New(inflight.Config{})
	var seq atomic.Int64
	svc := NewService(spaces{space.ID: space}, reg, tracker,
		WithClock(func() time.Time { return clock }),
		WithIDGenerator(func() string { return fmt.Sprintf("gen%d", seq.Add(1)) }),
	)
	return &fixture{svc: svc, store: mem, tracker: tracker}
}

func collection(t *testing.T, features ...string) *domain.ModifyRequest {
	t.Helper()
	req := &domain.ModifyRequest{}
	for _, raw := range features {
		f, err := domain.ParseFeature([]byte(raw))
		require.NoError(t, err)
		req.Features = append(req.Features, f)
	}
	return req
}

var (
	upsert = modify.Policies{IfExists: modify.IfExistsReplace, IfNotExists: modify.IfNotExistsCreate}
	patch  = modify.Policies{IfExists: modify.IfExistsPatch, IfNotExists: modify.IfNotExistsCreate}
	remove = modify.Policies{IfExists: modify.IfExistsDelete, IfNotExists: modify.IfNotExistsRetain}
)

func params(p modify.Policies) ModifyParams {
	return ModifyParams{TenantID: "t1", SpaceID: "roads", Defaults: p, Transactional: true}
}

func roads() *domain.Space {
	return &domain.Space{ID: "roads", Owner: "t1"}
}

func apiError(t *testing.T, err error) *domain.APIError {
	t.Helper()
	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr), "error %v is not an APIError", err)
	return apiErr
}

func name(f *domain.Feature) string {
	s, _ := f.Object.GetString("properties", "name")
	return s
}

func TestModify_CreatesFeatures(t *testing.T) {
	fx := newFixture(t, roads(), nil)
	ctx := context.Background()

	res, err := fx.svc.Modify(ctx, params(upsert), collection(t,
		`{"id":"a","properties":{"name":"A","@ns:com:here:xyz":{"tags":["Café","@Keep"]}},"bbox":[0,0,1,1]}`,
		`{"id":7,"properties":{"name":"B"}}`,
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "7"}, res.Inserted)
	require.Len(t, res.Features, 2)

	a := res.Features[0]
	ns := a.Namespace()
	assert.Equal(t, "roads", ns.Space)
	assert.Equal(t, int64(1), ns.Version)
	assert.Equal(t, clock.UnixMilli(), ns.CreatedAt)
	assert.Equal(t, []string{"cafe", "@Keep"}, ns.Tags)
	assert.NotContains(t, a.Object, "bbox")
	typ, _ := a.Object.GetString("type")
	assert.Equal(t, "Feature", typ)
	assert.Empty(t, ns.UUID, "uuids are only assigned when the space enables them")
}

func TestModify_ReplaceWithStaleVersion(t *testing.T) {
	fx := newFixture(t, roads(), nil)
	ctx := context.Background()

	_, err := fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a","properties":{"name":"v1"}}`))
	require.NoError(t, err)
	_, err = fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a","properties":{"name":"v2","@ns:com:here:xyz":{"version":1}}}`))
	require.NoError(t, err)

	stale := collection(t, `{"id":"a","properties":{"name":"stale","@ns:com:here:xyz":{"version":1}}}`)
	_, err = fx.svc.Modify(ctx, params(upsert), stale)
	apiErr := apiError(t, err)
	assert.Equal(t, domain.ErrorTypeVersionConflict, apiErr.Type)
	assert.Equal(t, http.StatusConflict, apiErr.HTTPStatusCode())

	p := params(upsert)
	p.Transactional = false
	res, err := fx.svc.Modify(ctx, p, collection(t,
		`{"id":"b","properties":{"name":"new"}}`,
		`{"id":"a","properties":{"name":"stale","@ns:com:here:xyz":{"version":1}}}`,
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, res.Inserted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "a", res.Failed[0].ID)
	assert.Equal(t, 1, res.Failed[0].Position)

	heads, err := fx.store.LoadFeatures(ctx, "roads", []ports.FeatureRef{ports.Head("a")})
	require.NoError(t, err)
	assert.Equal(t, "v2", name(heads[0]))
}

func TestModify_PatchMergesConcurrentChange(t *testing.T) {
	space := roads()
	space.EnableHistory = true
	space.EnableUUID = true
	fx := newFixture(t, space, nil)
	ctx := context.Background()

	res, err := fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a","properties":{"name":"A","lanes":2}}`))
	require.NoError(t, err)
	firstUUID := res.Features[0].UUID()
	require.NotEmpty(t, firstUUID)

	// someone else changes the lanes
	res, err = fx.svc.Modify(ctx, params(patch), collection(t, `{"id":"a","properties":{"lanes":4,"@ns:com:here:xyz":{"version":1}}}`))
	require.NoError(t, err)
	secondUUID := res.Features[0].UUID()

	// the caller still edits version 1
	res, err = fx.svc.Modify(ctx, params(patch), collection(t, `{"id":"a","properties":{"name":"Main St","@ns:com:here:xyz":{"version":1}}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, res.Updated)

	merged := res.Features[0]
	lanes, _ := merged.Object.GetInt("properties", "lanes")
	assert.Equal(t, int64(4), lanes)
	assert.Equal(t, "Main St", name(merged))
	assert.Equal(t, int64(3), merged.Version())
	ns := merged.Namespace()
	assert.Equal(t, secondUUID, ns.PUUID)
	assert.Equal(t, firstUUID, ns.MUUID)
	assert.Equal(t, clock.UnixMilli(), ns.CreatedAt)
}

func TestModify_PatchOfStaleVersionWithoutHistoryConflicts(t *testing.T) {
	fx := newFixture(t, roads(), nil)
	ctx := context.Background()

	_, err := fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a","properties":{"name":"A"}}`))
	require.NoError(t, err)
	_, err = fx.svc.Modify(ctx, params(patch), collection(t, `{"id":"a","properties":{"lanes":4}}`))
	require.NoError(t, err)

	_, err = fx.svc.Modify(ctx, params(patch), collection(t, `{"id":"a","properties":{"name":"B","@ns:com:here:xyz":{"version":1}}}`))
	assert.Equal(t, domain.ErrorTypeVersionConflict, apiError(t, err).Type)
}

func TestModify_UnmodifiedSkipsTheStore(t *testing.T) {
	fx := newFixture(t, roads(), nil)
	ctx := context.Background()

	_, err := fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a","properties":{"name":"A","@ns:com:here:xyz":{"tags":["x"]}}}`))
	require.NoError(t, err)

	res, err := fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a","properties":{"name":"A"}}`))
	require.NoError(t, err)
	assert.Empty(t, res.Updated)
	require.Len(t, res.Features, 1)
	assert.Equal(t, int64(1), res.Features[0].Version())
	assert.Equal(t, []string{"x"}, res.Features[0].Tags(), "tags are inherited from the stored state")

	res, err = fx.svc.Modify(ctx, params(remove), collection(t, `{"id":"missing"}`))
	require.NoError(t, err)
	assert.Empty(t, res.Features)
	assert.Empty(t, res.Deleted)
}

func TestModify_Delete(t *testing.T) {
	fx := newFixture(t, roads(), nil)
	ctx := context.Background()

	_, err := fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a"}`, `{"id":"b"}`))
	require.NoError(t, err)

	res, err := fx.svc.Modify(ctx, params(remove), collection(t, `{"id":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Deleted)

	p := params(remove)
	p.RequireExisting = true
	_, err = fx.svc.Modify(ctx, p, collection(t, `{"id":"a"}`))
	apiErr := apiError(t, err)
	assert.Equal(t, http.StatusNotFound, apiErr.HTTPStatusCode())
	assert.Equal(t, domain.ErrorCodeFeatureNotFound, apiErr.Code)
}

func TestModify_Validation(t *testing.T) {
	fx := newFixture(t, roads(), nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		params   func() ModifyParams
		features []string
		code     domain.ErrorCode
		param    string
	}{
		{
			name:     "duplicate ids",
			params:   func() ModifyParams { return params(upsert) },
			features: []string{`{"id":"a"}`, `{"id":"a"}`},
			code:     domain.ErrorCodeDuplicateID,
		},
		{
			name:     "empty id",
			params:   func() ModifyParams { return params(upsert) },
			features: []string{`{"id":""}`},
			param:    "id",
		},
		{
			name: "unknown policy",
			params: func() ModifyParams {
				p := params(upsert)
				p.IfExists = "overwrite"
				return p
			},
			features: []string{`{"id":"a"}`},
			param:    "ifExists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.Modify(ctx, tt.params(), collection(t, tt.features...))
			apiErr := apiError(t, err)
			assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatusCode())
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.param, apiErr.Param)
		})
	}
}

func TestModify_PrefixAndGeneratedIDs(t *testing.T) {
	fx := newFixture(t, roads(), nil)
	p := params(upsert)
	p.PrefixID = "osm:"

	res, err := fx.svc.Modify(context.Background(), p, collection(t, `{"id":"1"}`, `{"properties":{}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"osm:1", "osm:gen1"}, res.Inserted)
}

func TestModify_AddAndRemoveTags(t *testing.T) {
	fx := newFixture(t, roads(), nil)
	ctx := context.Background()

	_, err := fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a","properties":{"@ns:com:here:xyz":{"tags":["old","keep"]}}}`))
	require.NoError(t, err)

	p := params(patch)
	p.AddTags = ParseTags([]string{"New,Fresh"})
	p.RemoveTags = []string{"old"}
	res, err := fx.svc.Modify(ctx, p, collection(t, `{"id":"a","properties":{"name":"A"}}`))
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	assert.Equal(t, []string{"keep", "new", "fresh"}, res.Features[0].Tags())
}

func TestModify_SpaceChecks(t *testing.T) {
	ctx := context.Background()

	readOnly := roads()
	readOnly.ReadOnly = true
	fx := newFixture(t, readOnly, nil)
	_, err := fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a"}`))
	assert.Equal(t, domain.ErrorCodeReadOnly, apiError(t, err).Code)

	p := params(upsert)
	p.TenantID = "intruder"
	_, err = fx.svc.Modify(ctx, p, collection(t, `{"id":"a"}`))
	assert.Equal(t, http.StatusForbidden, apiError(t, err).HTTPStatusCode())

	p = params(upsert)
	p.SpaceID = "unknown"
	_, err = fx.svc.Modify(ctx, p, collection(t, `{"id":"a"}`))
	assert.Equal(t, domain.ErrorCodeSpaceNotFound, apiError(t, err).Code)
}

func TestModify_MaxFeatures(t *testing.T) {
	space := roads()
	space.MaxFeatures = 2
	fx := newFixture(t, space, nil)
	ctx := context.Background()

	_, err := fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a"}`, `{"id":"b"}`))
	require.NoError(t, err)

	_, err = fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"c"}`))
	apiErr := apiError(t, err)
	assert.Equal(t, domain.ErrorCodeMaxFeatures, apiErr.Code)
	assert.Equal(t, http.StatusForbidden, apiErr.HTTPStatusCode())

	// replacing existing features does not grow the space
	_, err = fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a","properties":{"name":"A"}}`))
	assert.NoError(t, err)
}

func TestModify_Throttle(t *testing.T) {
	fx := newFixture(t, roads(), nil)
	tracker := inflight.New(inflight.Config{GlobalLimit: 10})
	fx.svc.memory = tracker

	p := params(upsert)
	p.BodySize = 100
	_, err := fx.svc.Modify(context.Background(), p, collection(t, `{"id":"a"}`))
	apiErr := apiError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatusCode())
	assert.Equal(t, domain.ErrorCodeMemoryExhausted, apiErr.Code)
	assert.Zero(t, tracker.Global(), "request memory is released when the task ends")
}

// blockingStore holds every load until its context ends.
type blockingStore struct {
	*memory.Store
	entered   chan struct{}
	cancelled atomic.Bool
}

func (s *blockingStore) LoadFeatures(ctx context.Context, _ string, _ []ports.FeatureRef) ([]*domain.Feature, error) {
	close(s.entered)
	<-ctx.Done()
	s.cancelled.Store(true)
	return nil, ctx.Err()
}

func TestModify_ClientDisconnectCancelsTheTask(t *testing.T) {
	store := &blockingStore{Store: memory.New(), entered: make(chan struct{})}
	fx := newFixture(t, roads(), store)

	p := params(upsert)
	p.BodySize = 64
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-store.entered
		cancel()
	}()

	_, err := fx.svc.Modify(ctx, p, collection(t, `{"id":"a"}`))
	apiErr := apiError(t, err)
	assert.Equal(t, domain.ErrorTypeCancelled, apiErr.Type)
	assert.Equal(t, domain.StatusClientClosedRequest, apiErr.HTTPStatusCode())
	assert.Eventually(t, store.cancelled.Load, time.Second, time.Millisecond)
	assert.Zero(t, fx.tracker.Global())
}

func TestGetFeatures(t *testing.T) {
	fx := newFixture(t, roads(), nil)
	ctx := context.Background()

	_, err := fx.svc.Modify(ctx, params(upsert), collection(t, `{"id":"a"}`, `{"id":"b"}`, `{"id":"c"}`))
	require.NoError(t, err)

	res, err := fx.svc.GetFeatures(ctx, ReadParams{TenantID: "t1", SpaceID: "roads"}, []string{"c", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, res.Features, 2)
	assert.Equal(t, "c", res.Features[0].ID())
	assert.Equal(t, "a", res.Features[1].ID())

	_, err = fx.svc.GetFeatures(ctx, ReadParams{TenantID: "t1", SpaceID: "roads", RequireExisting: true}, []string{"missing"})
	assert.Equal(t, http.StatusNotFound, apiError(t, err).HTTPStatusCode())

	_, err = fx.svc.GetFeatures(ctx, ReadParams{TenantID: "other", SpaceID: "roads"}, []string{"a"})
	assert.Equal(t, http.StatusForbidden, apiError(t, err).HTTPStatusCode())
}

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Café", "cafe"},
		{"@Raw Tag", "@Raw Tag"},
		{"~Keep", "~Keep"},
		{"ref_ABC", "ref_ABC"},
		{"sourceID_XY", "sourceID_XY"},
		{"Straße", "strae"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeTag(tt.in); got != tt.want {
			t.Errorf("NormalizeTag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	assert.Equal(t, []string{"a", "b"}, ParseTags([]string{"A,b", " a ", ""}))
}
