package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heremaps/xyz-hub-sub003/internal/auth"
	"github.com/heremaps/xyz-hub-sub003/internal/feature"
	"github.com/heremaps/xyz-hub-sub003/internal/inflight"
	"github.com/heremaps/xyz-hub-sub003/internal/server"
	"github.com/heremaps/xyz-hub-sub003/internal/space"
	"github.com/heremaps/xyz-hub-sub003/internal/storage"
	"github.com/heremaps/xyz-hub-sub003/internal/storage/memory"
	"github.com/heremaps/xyz-hub-sub003/internal/tenant"
)

type hub struct {
	t      *testing.T
	router http.Handler
}

func newHub(t *testing.T) *hub {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	stores := storage.NewRegistry()
	stores.Register(storage.DefaultID, store)

	spaces := space.NewService(store, stores, logger)
	features := feature.NewService(spaces, stores, inflight.New(inflight.Config{}), feature.WithLogger(logger))

	srv := server.New(server.Options{
		Logger: logger,
		Authenticator: auth.NewAuthenticator([]*tenant.Tenant{
			{ID: "alice", APIKeys: []tenant.APIKey{{KeyHash: auth.HashAPIKey("alice-key")}}},
			{ID: "bob", APIKeys: []tenant.APIKey{{KeyHash: auth.HashAPIKey("bob-key")}}},
		}),
		MaxBodyBytes: 1 << 16,
	})
	srv.API(New(features, spaces, logger).Routes)
	return &hub{t: t, router: srv.Router}
}

func (h *hub) do(key, method, target, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	e, _ := decode(t, rec)["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func nsOf(t *testing.T, f map[string]any) map[string]any {
	t.Helper()
	props, _ := f["properties"].(map[string]any)
	ns, _ := props["@ns:com:here:xyz"].(map[string]any)
	require.NotNil(t, ns)
	return ns
}

func TestSpaceLifecycle(t *testing.T) {
	h := newHub(t)

	rec := h.do("alice-key", http.MethodPut, "/hub/spaces/roads", `{"title":"Roads","enableHistory":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sp := decode(t, rec)
	assert.Equal(t, "alice", sp["owner"])
	assert.Equal(t, float64(1), sp["version"])

	rec = h.do("alice-key", http.MethodPatch, "/hub/spaces/roads", `{"description":"all roads"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Roads", decode(t, rec)["title"])

	rec = h.do("alice-key", http.MethodPost, "/hub/spaces", `{"title":"Generated"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["id"])

	rec = h.do("alice-key", http.MethodPost, "/hub/spaces", `{"id":"roads"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do("alice-key", http.MethodGet, "/hub/spaces", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = h.do("bob-key", http.MethodGet, "/hub/spaces/roads", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do("bob-key", http.MethodGet, "/hub/spaces", "")
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = h.do("alice-key", http.MethodDelete, "/hub/spaces/roads", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do("alice-key", http.MethodGet, "/hub/spaces/roads", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "space_not_found", errorCode(t, rec))
}

func TestFeatureLifecycle(t *testing.T) {
	h := newHub(t)
	require.Equal(t, http.StatusOK, h.do("alice-key", http.MethodPut, "/hub/spaces/roads", `{}`).Code)

	rec := h.do("alice-key", http.MethodPut, "/hub/spaces/roads/features?addTags=Main,Street",
		`{"type":"FeatureCollection","features":[
			{"id":"a","type":"Feature","geometry":{"type":"Point","coordinates":[8.1,50.2]},"properties":{"name":"A"}},
			{"id":"b","properties":{"name":"B"}}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fc := decode(t, rec)
	assert.Equal(t, "FeatureCollection", fc["type"])
	assert.ElementsMatch(t, []any{"a", "b"}, fc["inserted"])

	rec = h.do("alice-key", http.MethodGet, "/hub/spaces/roads/features/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode(t, rec)
	ns := nsOf(t, a)
	assert.Equal(t, float64(1), ns["version"])
	assert.Equal(t, []any{"main", "street"}, ns["tags"])

	rec = h.do("alice-key", http.MethodPatch, "/hub/spaces/roads/features/a", `{"properties":{"lanes":2}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	a = decode(t, rec)
	props := a["properties"].(map[string]any)
	assert.Equal(t, "A", props["name"])
	assert.Equal(t, float64(2), props["lanes"])
	assert.Equal(t, float64(2), nsOf(t, a)["version"])

	rec = h.do("alice-key", http.MethodPost, "/hub/spaces/roads/features?ifExists=error",
		`{"type":"FeatureCollection","features":[{"id":"a"}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do("alice-key", http.MethodPost, "/hub/spaces/roads/features?ifExists=error&transactional=false",
		`{"type":"FeatureCollection","features":[{"id":"a"},{"id":"c"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	fc = decode(t, rec)
	assert.Equal(t, []any{"c"}, fc["inserted"])
	require.Len(t, fc["failed"], 1)

	rec = h.do("alice-key", http.MethodGet, "/hub/spaces/roads/features?id=c,missing&id=b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	features := decode(t, rec)["features"].([]any)
	require.Len(t, features, 2)
	assert.Equal(t, "c", features[0].(map[string]any)["id"])

	rec = h.do("alice-key", http.MethodDelete, "/hub/spaces/roads/features/a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do("alice-key", http.MethodGet, "/hub/spaces/roads/features/a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do("alice-key", http.MethodDelete, "/hub/spaces/roads/features/a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do("alice-key", http.MethodDelete, "/hub/spaces/roads/features?id=b,c", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []any{"b", "c"}, decode(t, rec)["deleted"])
}

func TestFeatureRequestErrors(t *testing.T) {
	h := newHub(t)
	require.Equal(t, http.StatusOK, h.do("alice-key", http.MethodPut, "/hub/spaces/roads", `{}`).Code)

	tests := []struct {
		name   string
		key    string
		method string
		target string
		body   string
		status int
		code   string
	}{
		{"invalid json", "alice-key", http.MethodPut, "/hub/spaces/roads/features", `{"features":[`, http.StatusBadRequest, ""},
		{"invalid transactional", "alice-key", http.MethodPut, "/hub/spaces/roads/features?transactional=maybe", `{"features":[]}`, http.StatusBadRequest, ""},
		{"invalid policy", "alice-key", http.MethodPost, "/hub/spaces/roads/features?ifNotExists=sometimes", `{"features":[{"id":"a"}]}`, http.StatusBadRequest, ""},
		{"duplicate ids", "alice-key", http.MethodPut, "/hub/spaces/roads/features", `{"features":[{"id":"a"},{"id":"a"}]}`, http.StatusBadRequest, "duplicate_id"},
		{"missing ids", "alice-key", http.MethodGet, "/hub/spaces/roads/features", "", http.StatusBadRequest, ""},
		{"unknown space", "alice-key", http.MethodPut, "/hub/spaces/nowhere/features", `{"features":[]}`, http.StatusNotFound, "space_not_found"},
		{"foreign space", "bob-key", http.MethodPut, "/hub/spaces/roads/features", `{"features":[]}`, http.StatusForbidden, ""},
		{"patch of missing feature", "alice-key", http.MethodPatch, "/hub/spaces/roads/features/zzz", `{"properties":{}}`, http.StatusNotFound, "feature_not_found"},
		{"unknown key", "nobody", http.MethodGet, "/hub/spaces", "", http.StatusUnauthorized, "invalid_api_key"},
		{"body too large", "alice-key", http.MethodPut, "/hub/spaces/roads/features", `{"features":[{"id":"` + strings.Repeat("x", 1<<16) + `"}]}`, http.StatusRequestEntityTooLarge, "request_too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(tt.key, tt.method, tt.target, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, rec))
			}
		})
	}
}
