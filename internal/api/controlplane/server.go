// Package controlplane serves the administrative view of a running hub.
package controlplane

import (
	"context"
	"net/http"
	"runtime"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heremaps/xyz-hub-sub003/internal/config"
	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/server"
)

// Storages enumerates the registered feature stores.
type Storages interface {
	IDs() []string
	FeatureStore(id string) (ports.FeatureStore, error)
}

// Memory reports the request bytes in flight.
type Memory interface {
	InFlight(storageID string) int64
	Global() int64
}

// Spaces lists the spaces a tenant can access.
type Spaces interface {
	ListSpaces(ctx context.Context, tenantID string) ([]*domain.Space, error)
}

type Server struct {
	startTime time.Time
	cfg       atomic.Pointer[config.Config]
	storages  Storages
	memory    Memory
	spaces    Spaces
}

func NewServer(cfg *config.Config, storages Storages, memory Memory, spaces Spaces) *Server {
	s := &Server{
		startTime: time.Now(),
		storages:  storages,
		memory:    memory,
		spaces:    spaces,
	}
	s.cfg.Store(cfg)
	return s
}

// SetConfig replaces the configuration shown by the overview.
func (s *Server) SetConfig(cfg *config.Config) { s.cfg.Store(cfg) }

// Routes registers the /hub/admin routes on r.
func (s *Server) Routes(r chi.Router) {
	r.Route("/hub/admin", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/overview", s.handleOverview)
		r.Get("/spaces", s.handleSpaces)
	})
}

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	Memory       MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	server.WriteJSON(w, http.StatusOK, StatsResponse{
		Uptime:       time.Since(s.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	})
}

type OverviewResponse struct {
	Mode           string           `json:"mode"`
	Storages       []StorageSummary `json:"storages"`
	Inflight       InflightSummary  `json:"inflight"`
	Tenants        []TenantSummary  `json:"tenants"`
	DeclaredSpaces []string         `json:"declared_spaces"`
}

type StorageSummary struct {
	ID            string `json:"id"`
	Type          string `json:"type,omitempty"`
	InflightBytes int64  `json:"inflight_bytes"`
}

type InflightSummary struct {
	GlobalBytes int64   `json:"global_bytes"`
	LimitBytes  int64   `json:"limit_bytes"`
	Threshold   float64 `json:"threshold"`
}

type TenantSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	APIKeyCount int    `json:"api_key_count"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Load()
	resp := OverviewResponse{
		Mode:           "single-tenant",
		Storages:       []StorageSummary{},
		Tenants:        []TenantSummary{},
		DeclaredSpaces: []string{},
	}

	types := make(map[string]string)
	if cfg != nil {
		types["default"] = cfg.Storage.Type
		for _, sc := range cfg.Storages {
			types[sc.ID] = sc.Type
		}
		resp.Inflight.LimitBytes = cfg.Limits.GlobalInflightMB << 20
		resp.Inflight.Threshold = cfg.Limits.Threshold
		if len(cfg.Tenants) > 1 {
			resp.Mode = "multi-tenant"
		}
		for _, t := range cfg.Tenants {
			resp.Tenants = append(resp.Tenants, TenantSummary{ID: t.ID, Name: t.Name, APIKeyCount: len(t.APIKeys)})
		}
		for _, sp := range cfg.Spaces {
			resp.DeclaredSpaces = append(resp.DeclaredSpaces, sp.ID)
		}
	}

	ids := s.storages.IDs()
	slices.Sort(ids)
	for _, id := range ids {
		resp.Storages = append(resp.Storages, StorageSummary{
			ID:            id,
			Type:          types[id],
			InflightBytes: s.memory.InFlight(id),
		})
	}
	resp.Inflight.GlobalBytes = s.memory.Global()

	server.WriteJSON(w, http.StatusOK, resp)
}

type SpaceSummary struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	Storage  string `json:"storage"`
	ReadOnly bool   `json:"read_only,omitempty"`
	Features int64  `json:"features"`
}

type SpaceListResponse struct {
	Spaces []SpaceSummary `json:"spaces"`
	Total  int            `json:"total"`
}

// handleSpaces pages through the caller's spaces with their feature counts.
func (s *Server) handleSpaces(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0

	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	if q := r.URL.Query().Get("offset"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v >= 0 {
			offset = v
		}
	}

	var tenantID string
	if t := server.GetTenant(r); t != nil {
		tenantID = t.ID
	}
	spaces, err := s.spaces.ListSpaces(r.Context(), tenantID)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	resp := SpaceListResponse{Spaces: []SpaceSummary{}, Total: len(spaces)}
	if offset < len(spaces) {
		spaces = spaces[offset:min(offset+limit, len(spaces))]
	} else {
		spaces = nil
	}
	for _, sp := range spaces {
		storageID := sp.Storage
		if storageID == "" {
			storageID = "default"
		}
		summary := SpaceSummary{ID: sp.ID, Owner: sp.Owner, Storage: storageID, ReadOnly: sp.ReadOnly}
		store, err := s.storages.FeatureStore(storageID)
		if err == nil {
			summary.Features, err = store.CountFeatures(r.Context(), sp.ID)
		}
		if err != nil {
			server.WriteError(w, r, err)
			return
		}
		resp.Spaces = append(resp.Spaces, summary)
	}

	server.WriteJSON(w, http.StatusOK, resp)
}
