package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	return root.Execute()
}

func TestCommandsValidateFlagsBeforeConnecting(t *testing.T) {
	tests := map[string]struct {
		args []string
		want string
	}{
		"admin without email":   {[]string{"create-admin", "--password", "longenough"}, "--email is required"},
		"admin short password":  {[]string{"create-admin", "--email", "a@example.com", "--password", "short"}, "--password must be at least 8 characters"},
		"export unknown format": {[]string{"export", "--format", "xlsx"}, "--format must be all, csv, geojson or pdf"},
		"export unknown status": {[]string{"export", "--status", "resolved"}, "--status must be one of"},
		"seed missing file":     {[]string{"seed", "--file", "/nonexistent/departments.yaml"}, "read seed file"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := runCommand(t, tc.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	names := []string{}
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "create-admin", "seed", "export"})
}
