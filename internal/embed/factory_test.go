package embed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOllamaEmbedder_TimeoutEnvVar(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{name: "valid duration seconds", envValue: "120s", want: 120 * time.Second},
		{name: "valid duration minutes", envValue: "5m", want: 5 * time.Minute},
		{name: "invalid duration uses default", envValue: "invalid", want: DefaultTimeout},
		{name: "empty uses default", envValue: "", want: DefaultTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := os.Getenv("OPENSRC_OLLAMA_TIMEOUT")
			defer os.Setenv("OPENSRC_OLLAMA_TIMEOUT", orig)

			if tt.envValue != "" {
				os.Setenv("OPENSRC_OLLAMA_TIMEOUT", tt.envValue)
			} else {
				os.Unsetenv("OPENSRC_OLLAMA_TIMEOUT")
			}

			cfg := DefaultOllamaConfig()
			if timeoutStr := os.Getenv("OPENSRC_OLLAMA_TIMEOUT"); timeoutStr != "" {
				if timeout, err := time.ParseDuration(timeoutStr); err == nil {
					cfg.Timeout = timeout
				}
			}

			assert.Equal(t, tt.want, cfg.Timeout)
		})
	}
}

func TestNewEmbedder_StaticProvider_DoesNotNeedOllama(t *testing.T) {
	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, ProviderStatic, "")
	require.NoError(t, err)
	defer embedder.Close()

	assert.Equal(t, "static", embedder.ModelName())
	assert.True(t, embedder.Available(ctx))
}

func TestNewEmbedder_ExplicitOllama_OllamaUnavailable_ReturnsError(t *testing.T) {
	origEmbedder := os.Getenv("OPENSRC_EMBEDDER")
	origHost := os.Getenv("OPENSRC_OLLAMA_HOST")
	defer func() {
		os.Setenv("OPENSRC_EMBEDDER", origEmbedder)
		os.Setenv("OPENSRC_OLLAMA_HOST", origHost)
	}()

	os.Setenv("OPENSRC_EMBEDDER", "ollama")
	os.Setenv("OPENSRC_OLLAMA_HOST", "http://localhost:59999")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	embedder, err := NewEmbedder(ctx, ProviderOllama, "")

	require.Error(t, err, "explicit ollama selection should error when unavailable, not fall back")
	assert.Nil(t, embedder)
	assert.Contains(t, err.Error(), "ollama unavailable")
}

func TestNewEmbedder_AutoDetect_OllamaFails_ReturnsError(t *testing.T) {
	origEmbedder := os.Getenv("OPENSRC_EMBEDDER")
	origHost := os.Getenv("OPENSRC_OLLAMA_HOST")
	defer func() {
		os.Setenv("OPENSRC_EMBEDDER", origEmbedder)
		os.Setenv("OPENSRC_OLLAMA_HOST", origHost)
	}()

	os.Unsetenv("OPENSRC_EMBEDDER")
	os.Setenv("OPENSRC_OLLAMA_HOST", "http://localhost:59999")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	embedder, err := NewEmbedder(ctx, ProviderOllama, "")

	require.Error(t, err, "auto-detect should error when ollama is unavailable")
	assert.Nil(t, embedder)
	assert.Contains(t, err.Error(), "ollama unavailable")
	assert.Contains(t, err.Error(), "ollama serve")
}

func TestNewEmbedder_ExplicitStatic_AlwaysSucceeds(t *testing.T) {
	origEmbedder := os.Getenv("OPENSRC_EMBEDDER")
	defer os.Setenv("OPENSRC_EMBEDDER", origEmbedder)

	os.Setenv("OPENSRC_EMBEDDER", "static")

	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, ProviderOllama, "")

	require.NoError(t, err)
	require.NotNil(t, embedder)
	defer func() { _ = embedder.Close() }()
	assert.Equal(t, "static", embedder.ModelName())
}

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderOllama, ParseProvider("ollama"))
	assert.Equal(t, ProviderStatic, ParseProvider("static"))
	assert.Equal(t, ProviderOllama, ParseProvider("unknown"))
	assert.Equal(t, ProviderOllama, ParseProvider(""))
}

func TestIsValidProvider(t *testing.T) {
	assert.True(t, IsValidProvider("ollama"))
	assert.True(t, IsValidProvider("static"))
	assert.True(t, IsValidProvider("STATIC"))
	assert.False(t, IsValidProvider("mlx"))
	assert.False(t, IsValidProvider("bogus"))
}

func TestIsOllamaModelName_WithTag(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  bool
	}{
		{name: "ollama model with tag", model: "nomic-embed-text:latest", want: true},
		{name: "qwen3 with size tag", model: "qwen3-embedding:8b", want: true},
		{name: "model with version tag", model: "bge-small:v1.5", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isOllamaModelName(tt.model)
			assert.Equal(t, tt.want, got, "isOllamaModelName(%q)", tt.model)
		})
	}
}

func TestIsOllamaModelName_GGUFExtension(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  bool
	}{
		{name: "gguf file", model: "model.gguf", want: false},
		{name: "gguf with path", model: "/path/to/nomic-embed-text.gguf", want: false},
		{name: "uppercase GGUF", model: "model.GGUF", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isOllamaModelName(tt.model)
			assert.Equal(t, tt.want, got, "isOllamaModelName(%q)", tt.model)
		})
	}
}

func TestIsOllamaModelName_PlainNames(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  bool
	}{
		{name: "plain name no tag", model: "nomic-embed-text", want: false},
		{name: "single word", model: "embedding", want: false},
		{name: "empty string", model: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isOllamaModelName(tt.model)
			assert.Equal(t, tt.want, got, "isOllamaModelName(%q)", tt.model)
		})
	}
}

func TestGetInfo_StaticEmbedder(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	info := GetInfo(context.Background(), embedder)
	assert.Equal(t, ProviderStatic, info.Provider)
	assert.Equal(t, DefaultDimensions, info.Dimensions)
	assert.True(t, info.Available)
}
