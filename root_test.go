package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/firecloud-go/internal/config"
)

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		cfg   *config.LoggingConfig
		flags CLIFlags
		want  slog.Level
	}{
		{"no config", nil, CLIFlags{}, slog.LevelWarn},
		{"config debug", &config.LoggingConfig{LogLevel: "debug", LogFormat: "text"}, CLIFlags{}, slog.LevelDebug},
		{"config error", &config.LoggingConfig{LogLevel: "error", LogFormat: "text"}, CLIFlags{}, slog.LevelError},
		{"verbose beats config", &config.LoggingConfig{LogLevel: "error", LogFormat: "text"}, CLIFlags{Verbose: true}, slog.LevelDebug},
		{"quiet beats config", &config.LoggingConfig{LogLevel: "debug", LogFormat: "text"}, CLIFlags{Quiet: true}, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := buildLogger(&bytes.Buffer{}, tt.cfg, tt.flags)
			h := logger.Handler()

			assert.True(t, h.Enabled(context.Background(), tt.want))

			if tt.want > slog.LevelDebug {
				assert.False(t, h.Enabled(context.Background(), tt.want-1))
			}
		})
	}
}

func TestBuildLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := buildLogger(&buf, &config.LoggingConfig{LogLevel: "info", LogFormat: "json"}, CLIFlags{})
	logger.Info("hello", slog.String("k", "v"))

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestSkipConfig(t *testing.T) {
	root := newRootCmd()

	db, _, err := root.Find([]string{"db", "get"})
	require.NoError(t, err)
	assert.False(t, skipConfig(db))

	completion := &cobra.Command{Use: "completion"}
	bash := &cobra.Command{Use: "bash"}
	completion.AddCommand(bash)
	assert.True(t, skipConfig(bash))
	assert.True(t, skipConfig(&cobra.Command{Use: "help"}))
}

func TestMustCLIContext_Missing(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestCloudOptions_FromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Endpoints.StoreURL = "http://127.0.0.1:8080"
	cfg.Endpoints.Bucket = "media"
	cfg.Network.UserAgent = "firecloud-test"
	cfg.Network.ConnectTimeout = "3s"
	cfg.Network.ForceHTTP11 = true

	cc := &CLIContext{Cfg: &config.Resolved{Config: *cfg}, Logger: slog.Default()}
	opts := cc.cloudOptions()

	assert.Equal(t, "http://127.0.0.1:8080", opts.Endpoints.StoreURL)
	assert.Equal(t, "media", opts.Bucket)
	assert.Equal(t, "firecloud-test", opts.UserAgent)
	assert.Equal(t, 3*time.Second, opts.ConnectTimeout)
	assert.True(t, opts.ForceHTTP11)
	assert.Nil(t, opts.Limiter)
}

func TestRoot_MissingConfigValues(t *testing.T) {
	for _, name := range []string{config.EnvConfig, config.EnvAPIKey, config.EnvProject, config.EnvEmail, config.EnvPassword} {
		t.Setenv(name, "")
	}

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", t.TempDir() + "/none.toml", "db", "get", "x"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
	assert.Contains(t, err.Error(), "api_key: required")
}

func TestRoot_ProjectFlagOverridesConfig(t *testing.T) {
	env := newCLIEnv(t, "")
	require.NoError(t, env.fake.SetDocument("notes/n1", `{"title":{"stringValue":"hi"}}`))

	_, _, err := env.run(t, "--project", "other-project", "doc", "get", "notes/n1")
	require.NoError(t, err)

	assert.Contains(t, env.fake.LastRequest().Path, "/v1/projects/other-project/")
}
