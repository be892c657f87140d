package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintBanner_NotATerminal(t *testing.T) {
	var buf bytes.Buffer
	printBanner(&buf)
	assert.Contains(t, buf.String(), "CRL Distribution Point - Version "+Version)
	assert.NotContains(t, buf.String(), "\x1b[")

	f, err := os.Create(filepath.Join(t.TempDir(), "serve.log"))
	require.NoError(t, err)
	defer f.Close()
	printBanner(f)
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\x1b[")
}
