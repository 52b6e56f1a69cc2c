package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownTable(t *testing.T) {
	w := NewMarkdownWriter()
	w.Table([]string{"A", "B"}, [][]string{{"x|y", "z"}})
	assert.Equal(t, "| A | B |\n| --- | --- |\n| x\\|y | z |\n\n", string(w.Bytes()))

	empty := NewMarkdownWriter()
	empty.Table([]string{"A"}, nil)
	assert.Empty(t, empty.Bytes())
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "METALINEAGE_PIPELINE_ASSET_WORKERS", envName("pipeline.asset_workers"))
}

func TestCleanExample(t *testing.T) {
	assert.Equal(t, "# a\nmetalineage runs", cleanExample("  # a\n  metalineage runs\n"))
}

func TestGenerateDocs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, generateCLIDocs(dir))
	require.NoError(t, generateConfigDocs(dir))

	for _, name := range []string{"index.md", "refresh.md", "lineage.md", "cll.md", "configuration.md"} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(b), "DO NOT EDIT", name)
	}

	index, err := os.ReadFile(filepath.Join(dir, "index.md"))
	require.NoError(t, err)
	assert.Contains(t, string(index), "METALINEAGE_STATE_DSN")
	assert.Contains(t, string(index), "`--state-driver`")
}
