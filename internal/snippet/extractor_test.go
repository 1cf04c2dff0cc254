package snippet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestExtract_BasicRange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.go", "line1\nline2\nline3\nline4\nline5\n")

	e := New(root, Limits{})
	res := e.Extract("src/a.go", 2, 4)
	require.True(t, res.ExtractionSuccess)
	assert.Equal(t, "line2\nline3\nline4", res.Content)
	assert.False(t, res.IsTruncated)
}

func TestExtract_DefaultWindow(t *testing.T) {
	root := t.TempDir()
	var sb strings.Builder
	for i := 1; i <= 100; i++ {
		sb.WriteString("x\n")
	}
	writeFile(t, root, "a.txt", sb.String())

	e := New(root, Limits{})
	res := e.Extract("a.txt", 10, 0)
	require.True(t, res.ExtractionSuccess)
	assert.Equal(t, 10, res.StartLine)
	assert.Equal(t, 59, res.EndLine)
}

func TestExtract_PathTraversalRejected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "safe.txt", "ok\n")

	e := New(root, Limits{})
	res := e.Extract("../../etc/passwd", 1, 1)
	assert.False(t, res.ExtractionSuccess)
	assert.NotEmpty(t, res.ExtractionError)
}

func TestExtract_BinaryDetectedByNUL(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bin.dat", "abc\x00def")

	e := New(root, Limits{})
	res := e.Extract("bin.dat", 1, 1)
	assert.True(t, res.IsBinary)
	assert.False(t, res.ExtractionSuccess)
}

func TestExtract_BinaryExtensionSkipsContentRead(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "image.png", "not really png bytes")

	e := New(root, Limits{})
	res := e.Extract("image.png", 1, 1)
	assert.True(t, res.IsBinary)
}

func TestExtract_OversizeFileRejected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", strings.Repeat("a", 100))

	e := New(root, Limits{MaxFileSizeBytes: 10})
	res := e.Extract("big.txt", 1, 1)
	assert.False(t, res.ExtractionSuccess)
}

func TestExtract_LineTruncation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "long.txt", strings.Repeat("x", 50)+"\nshort\n")

	e := New(root, Limits{MaxLineLength: 10})
	res := e.Extract("long.txt", 1, 1)
	require.True(t, res.ExtractionSuccess)
	assert.True(t, res.IsTruncated)
	assert.Contains(t, res.Content, "...[truncated]")
}

func TestExtract_CachedSecondCallDoesNotReread(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "one\ntwo\nthree\n")

	e := New(root, Limits{})
	first := e.Extract("a.go", 1, 1)
	require.True(t, first.ExtractionSuccess)

	// Mutate the file on disk; cached content should not reflect the change
	// within the same extractor instance.
	writeFile(t, root, "a.go", "CHANGED\n")
	second := e.Extract("a.go", 1, 1)
	require.True(t, second.ExtractionSuccess)
	assert.Equal(t, first.Content, second.Content)
}

func TestExtract_MissingFileMemoizesFailure(t *testing.T) {
	root := t.TempDir()
	e := New(root, Limits{})

	first := e.Extract("missing.go", 1, 1)
	assert.False(t, first.ExtractionSuccess)
	second := e.Extract("missing.go", 1, 1)
	assert.False(t, second.ExtractionSuccess)
	assert.Equal(t, first.ExtractionError, second.ExtractionError)
}

func TestExtract_StartBeyondEndOfFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "one\ntwo\n")

	e := New(root, Limits{})
	res := e.Extract("a.go", 50, 60)
	assert.False(t, res.ExtractionSuccess)
}
