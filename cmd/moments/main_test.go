package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-moments/internal/config"
)

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moments.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ranks: 0\nworkers: 2\n"), 0o644))

	prev := *ranks
	t.Cleanup(func() { *ranks = prev })

	_, err := loadConfig(path)
	require.ErrorIs(t, err, config.ErrInvalid)

	require.NoError(t, flag.Set("ranks", "4"))
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Ranks)
	assert.Equal(t, 2, cfg.Workers)
}
