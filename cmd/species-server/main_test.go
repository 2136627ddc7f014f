package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStore(t *testing.T) {
	s, err := loadStore("")
	require.NoError(t, err)
	assert.Equal(t, 13, s.Count())

	path := filepath.Join(t.TempDir(), "data.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: Tarsier\n"), 0o644))
	s, err = loadStore(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tarsier"}, s.Names())
}

func TestServeRejectsUnknownTransport(t *testing.T) {
	var logs bytes.Buffer
	cmd := newRootCmd(&logs)
	cmd.SetArgs([]string{"--transport", "carrier-pigeon"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport")
	assert.Contains(t, logs.String(), "species server starting")
}

func TestServeRejectsMissingDataset(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetArgs([]string{"--data", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, cmd.Execute())
}
