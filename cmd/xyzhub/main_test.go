package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heremaps/xyz-hub-sub003/internal/auth"
	"github.com/heremaps/xyz-hub-sub003/internal/config"
)

func TestKeygen(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"keygen", "secret"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), `key_hash: "`+auth.HashAPIKey("secret")+`"`)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		_, err := newLogger(&config.Config{Log: config.LogConfig{Level: level}})
		assert.NoError(t, err, level)
	}
	_, err := newLogger(&config.Config{Log: config.LogConfig{Level: "chatty"}})
	assert.Error(t, err)
}

func TestServe_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  type: tape\n"), 0o644))

	configPath = path
	defer func() { configPath = "config.yaml" }()
	assert.ErrorContains(t, runServe(t.Context()), "load config")
}
