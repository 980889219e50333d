// Package hub provides the public API for embedding a feature hub.
// This is the stable API for external consumers.
package hub

import (
	"github.com/heremaps/xyz-hub-sub003/internal/runtime"
)

// Hub runs the spaces and features API of one process.
// See internal/runtime.Hub for full documentation.
type Hub = runtime.Hub

// Option is a functional option for configuring a Hub.
type Option = runtime.Option

// New creates a new Hub with the given options.
// Example:
//
//	h, err := hub.New(
//	    hub.WithConfigFile("config.yaml"),
//	    hub.WithLogger(logger),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfigFile = runtime.WithConfigFile
	WithConfig     = runtime.WithConfig

	// Storage
	WithStore = runtime.WithStore

	// Observability
	WithLogger      = runtime.WithLogger
	WithTraceOutput = runtime.WithTraceOutput
)
