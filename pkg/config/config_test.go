package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotegate/backend/internal/features"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 20, cfg.Retrieval.RetrieveK)
	assert.InDelta(t, 0.2, cfg.Retrieval.Alpha, 1e-12)
	assert.InDelta(t, 0.25, cfg.Gate.HybridRerank.MinMargin, 1e-12)
	assert.Equal(t, "full", cfg.Features.Mode)
	assert.Equal(t, "memory", cfg.Index.Backend)
	assert.Contains(t, cfg.Gate.AnchorTerms, "probation")
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"unknown mode", "features:\n  mode: turbo\n", features.ErrUnknownMode},
		{"alpha too large", "retrieval:\n  alpha: 1.5\n", ErrInvalidAlpha},
		{"unknown backend", "index:\n  backend: faiss\n", ErrInvalidBackend},
		{"rerank margin not larger", "gate:\n  hybridRerank:\n    minMargin: 0.05\n", ErrInvalidMargin},
		{"zero topK", "retrieval:\n  topK: 0\n", ErrInvalidTopK},
		{"unknown embedder", "embedding:\n  provider: word2vec\n", ErrInvalidEmbed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("QUOTEGATE_RETRIEVAL_ALPHA", "0.7")

	cfg, err := LoadFile(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)
	assert.InDelta(t, 0.7, cfg.Retrieval.Alpha, 1e-12)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
