package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfigPath_RejectsPathTraversal(t *testing.T) {
	home := setupTestHome(t)

	tests := []struct {
		name string
		path string
	}{
		{"sibling prefix", "/etc/taskflow../etc/passwd"},
		{"multiple escapes", filepath.Join(home, ".config", "taskflow", "..", "..", "..", "etc", "passwd")},
		{"relative escape", "../../../../etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, validateConfigPath(tt.path))
		})
	}
}

func TestValidateConfigPath_AllowsValidPaths(t *testing.T) {
	home := setupTestHome(t)

	validPaths := []string{
		filepath.Join(home, ".config", "taskflow", "config.yaml"),
		filepath.Join(home, ".config", "taskflow", "subdir", "config.yaml"),
		"/etc/taskflow/config.yaml",
		"/etc/taskflow/production/config.yaml",
	}

	for _, path := range validPaths {
		t.Run(path, func(t *testing.T) {
			assert.NoError(t, validateConfigPath(path))
		})
	}
}

func TestValidateConfigPath_RejectsOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	for _, path := range []string{
		"/etc/passwd",
		"/tmp/config.yaml",
		"/var/lib/taskflow/config.yaml",
		"/etc/taskflow",
	} {
		t.Run(path, func(t *testing.T) {
			assert.Error(t, validateConfigPath(path))
		})
	}
}
