package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDirConfig(t *testing.T) *ShareConfiguration {
	t.Helper()
	return &ShareConfiguration{
		Mode:       ModeDirectory,
		SharedPath: t.TempDir(),
		MaxClients: 10,
		Port:       8000,
	}
}

func TestValidateAcceptsDirectoryShare(t *testing.T) {
	cfg := validDirConfig(t)
	require.NoError(t, cfg.Validate())
	assert.True(t, filepath.IsAbs(cfg.SharedPath))
	assert.Equal(t, cfg.Port+1, cfg.ChatPort())
	assert.Equal(t, cfg.Port+2, cfg.WebPort())
}

func TestValidateRejectsMissingPath(t *testing.T) {
	cfg := validDirConfig(t)
	cfg.SharedPath = ""
	assert.Error(t, cfg.Validate())

	cfg = validDirConfig(t)
	cfg.SharedPath = filepath.Join(cfg.SharedPath, "does-not-exist")
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsModeMismatch(t *testing.T) {
	cfg := validDirConfig(t)
	cfg.Mode = ModeFile // path is a directory
	assert.Error(t, cfg.Validate())

	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	cfg = &ShareConfiguration{Mode: ModeDirectory, SharedPath: file, MaxClients: 1, Port: 8000}
	assert.Error(t, cfg.Validate())

	cfg.Mode = ModeFile
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadLimits(t *testing.T) {
	cfg := validDirConfig(t)
	cfg.MaxClients = 0
	assert.Error(t, cfg.Validate())

	cfg = validDirConfig(t)
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = validDirConfig(t)
	cfg.Port = 65534 // web port would not fit
	assert.Error(t, cfg.Validate())
}

func TestPasswordRequired(t *testing.T) {
	cfg := validDirConfig(t)
	assert.False(t, cfg.PasswordRequired())
	cfg.Password = "p@ss"
	assert.True(t, cfg.PasswordRequired())
}
