package anchor

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sevigo/reviewcore/internal/diff"
	"github.com/sevigo/reviewcore/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func singleHunkMappings(t *testing.T) (*model.DiffMappings, model.Hunk) {
	t.Helper()
	raw := diff.RawFile{
		FilePath:   "src/test.py",
		ChangeType: model.ChangeModified,
		Patch:      "@@ -1,3 +1,6 @@\n def test():\n-    return False\n+    # Updated\n+    result = calculate()\n+    return result\n",
	}
	res := diff.ParseFile(raw, discardLogger())
	require.NoError(t, res.Err)
	mappings := diff.BuildMappings([]model.PRFilePatch{*res.Patch})
	return mappings, res.Patch.Hunks[0]
}

// TestEvidenceAnchor: an
// evidence-anchored finding maps to absolute line 2.
func TestEvidenceAnchor(t *testing.T) {
	mappings, hunk := singleHunkMappings(t)
	pack := &model.ContextPack{Items: []model.ContextItem{
		{ItemID: "ctx_1", FilePath: "src/test.py", StartLine: 1, EndLine: 4},
	}}

	f := model.Finding{
		FilePath: "src/test.py",
		Evidence: &model.Evidence{ContextItemID: "ctx_1", SnippetLineRange: [2]int{1, 1}},
	}

	res := Anchor([]model.Finding{f}, mappings, pack)
	require.Len(t, res.Anchored, 1)
	require.Empty(t, res.Unanchored)
	got := res.Anchored[0]
	require.Equal(t, hunk.HunkID, got.HunkID)
	require.Equal(t, model.AnchorEvidence, got.AnchoringMethod)
	require.Equal(t, 0.9, got.AnchoringConfidence)
	require.Equal(t, 2, got.LineInHunk)
}

// TestHintAnchorWithoutLineHint falls to the hunk's first added index.
func TestHintAnchorWithoutLineHint(t *testing.T) {
	mappings, hunk := singleHunkMappings(t)
	f := model.Finding{FilePath: "src/test.py", HunkIDHint: hunk.HunkID}

	res := Anchor([]model.Finding{f}, mappings, nil)
	require.Len(t, res.Anchored, 1)
	got := res.Anchored[0]
	require.Equal(t, model.AnchorHint, got.AnchoringMethod)
	require.Equal(t, hunk.AddedLineIndexes()[0], got.LineInHunk)
}

// TestAnchorFallback: a finding
// referencing a non-existent hunk_id falls through to the fallback strategy.
func TestAnchorFallback(t *testing.T) {
	mappings, hunk := singleHunkMappings(t)
	f := model.Finding{FilePath: "src/test.py", HunkIDHint: "bogus_hunk_id"}

	res := Anchor([]model.Finding{f}, mappings, nil)
	require.Len(t, res.Anchored, 1)
	got := res.Anchored[0]
	require.Equal(t, model.AnchorFallback, got.AnchoringMethod)
	require.Equal(t, 0.5, got.AnchoringConfidence)
	require.Equal(t, hunk.HunkID, got.HunkID)
	require.Equal(t, hunk.AddedLineIndexes()[0], got.LineInHunk)
}

// TestFindingOutsideDiffNeverAnchored covers the "never anchored" rule for a
// file_path that never appeared in the diff.
func TestFindingOutsideDiffNeverAnchored(t *testing.T) {
	mappings, _ := singleHunkMappings(t)
	f := model.Finding{FilePath: "other/unrelated.py"}

	res := Anchor([]model.Finding{f}, mappings, nil)
	require.Empty(t, res.Anchored)
	require.Len(t, res.Unanchored, 1)
}

// TestDegradedAnchoring covers graceful degradation when mappings is nil.
func TestDegradedAnchoring(t *testing.T) {
	res := Anchor([]model.Finding{{FilePath: "x.go"}}, nil, nil)
	require.True(t, res.Stats.Degraded)
	require.Len(t, res.Unanchored, 1)
	require.Equal(t, model.AnchorDegraded, res.Unanchored[0].AnchoringMethod)
}
