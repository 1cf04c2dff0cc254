package contextpack

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/snippet"
)

type fakeSource struct {
	text map[string]string
}

func (f *fakeSource) Extract(filePath string, startLine, endLine int) snippet.Result {
	text, ok := f.text[filePath]
	if !ok {
		return snippet.Result{ExtractionSuccess: false, ExtractionError: "not found"}
	}
	return snippet.Result{Content: text, StartLine: startLine, EndLine: endLine, ExtractionSuccess: true}
}

func TestBuild_OrdersByClassThenScore(t *testing.T) {
	source := &fakeSource{text: map[string]string{
		"a.go": "seed body",
		"b.go": "caller body",
		"c.go": "doc-adjacent body",
	}}
	candidates := []model.KGCandidate{
		{CandidateType: model.CandidateImport, NodeID: "n1", RelativePath: "c.go", StartLine: 1, EndLine: 1},
		{CandidateType: model.CandidateSymbolMatch, NodeID: "n2", RelativePath: "a.go", StartLine: 1, EndLine: 1},
		{CandidateType: model.CandidateNeighbor, Relationship: model.RelCaller, NodeID: "n3", RelativePath: "b.go", StartLine: 1, EndLine: 1},
	}

	pack := Build(candidates, nil, source, Limits{MaxContextItems: 10, MaxTotalCharacters: 10000}, "sha1", nil)

	require.Len(t, pack.Items, 3)
	assert.Equal(t, "a.go", pack.Items[0].FilePath)
	assert.Equal(t, "b.go", pack.Items[1].FilePath)
	assert.Equal(t, "c.go", pack.Items[2].FilePath)
	assert.Equal(t, 3, pack.Stats.Admitted)
	assert.Equal(t, "sha1", pack.KGCommitSHA)
}

func TestBuild_DocCandidateUsesInlineText(t *testing.T) {
	candidates := []model.KGCandidate{
		{CandidateType: model.CandidateDoc, NodeID: "d1", Text: "## Architecture\nsome notes"},
	}
	pack := Build(candidates, nil, nil, Limits{MaxContextItems: 10, MaxTotalCharacters: 10000}, "", nil)
	require.Len(t, pack.Items, 1)
	assert.Equal(t, "## Architecture\nsome notes", pack.Items[0].Text)
	assert.Equal(t, "doc", pack.Items[0].Provenance.Class)
}

func TestBuild_DropsCandidateWhenSnippetMissing(t *testing.T) {
	source := &fakeSource{text: map[string]string{}}
	candidates := []model.KGCandidate{
		{CandidateType: model.CandidateSymbolMatch, NodeID: "n1", RelativePath: "missing.go", StartLine: 1, EndLine: 1},
	}
	pack := Build(candidates, nil, source, Limits{MaxContextItems: 10, MaxTotalCharacters: 10000}, "", nil)
	assert.Empty(t, pack.Items)
	assert.Equal(t, 0, pack.Stats.Admitted)
}

func TestBuild_RespectsMaxContextItems(t *testing.T) {
	source := &fakeSource{text: map[string]string{}}
	var candidates []model.KGCandidate
	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("f%d.go", i)
		source.text[path] = "body"
		candidates = append(candidates, model.KGCandidate{
			CandidateType: model.CandidateSymbolMatch, NodeID: fmt.Sprintf("n%d", i), RelativePath: path, StartLine: 1, EndLine: 1,
		})
	}
	pack := Build(candidates, nil, source, Limits{MaxContextItems: 2, MaxTotalCharacters: 10000}, "", nil)
	assert.Len(t, pack.Items, 2)
	assert.Equal(t, 2, pack.Stats.Admitted)
}

func TestBuild_TruncatesOversizeItem(t *testing.T) {
	big := ""
	for i := 0; i < 100; i++ {
		big += "0123456789"
	}
	source := &fakeSource{text: map[string]string{"big.go": big}}
	candidates := []model.KGCandidate{
		{CandidateType: model.CandidateSymbolMatch, NodeID: "n1", RelativePath: "big.go", StartLine: 1, EndLine: 1},
	}
	pack := Build(candidates, nil, source, Limits{MaxContextItems: 10, MaxTotalCharacters: 10000, MaxItemCharacters: 50}, "", nil)
	require.Len(t, pack.Items, 1)
	assert.Equal(t, 50, pack.Items[0].CharacterCount)
	assert.Equal(t, 1, pack.Stats.Truncated)
}

func TestBuild_CountsDroppedOversizeWhenBudgetExhausted(t *testing.T) {
	source := &fakeSource{text: map[string]string{"a.go": "0123456789", "b.go": "0123456789"}}
	candidates := []model.KGCandidate{
		{CandidateType: model.CandidateSymbolMatch, NodeID: "n1", RelativePath: "a.go", StartLine: 1, EndLine: 1},
		{CandidateType: model.CandidateSymbolMatch, NodeID: "n2", RelativePath: "b.go", StartLine: 1, EndLine: 1},
	}
	pack := Build(candidates, nil, source, Limits{MaxContextItems: 10, MaxTotalCharacters: 10}, "", nil)
	assert.Equal(t, 1, pack.Stats.Admitted)
	assert.Equal(t, 1, pack.Stats.DroppedOversize)
}

func TestBuild_DeduplicatesByNodeID(t *testing.T) {
	source := &fakeSource{text: map[string]string{"a.go": "body"}}
	candidates := []model.KGCandidate{
		{CandidateType: model.CandidateSymbolMatch, NodeID: "n1", RelativePath: "a.go", StartLine: 1, EndLine: 1},
		{CandidateType: model.CandidateNeighbor, Relationship: model.RelCaller, NodeID: "n1", RelativePath: "a.go", StartLine: 1, EndLine: 1},
	}
	pack := Build(candidates, nil, source, Limits{MaxContextItems: 10, MaxTotalCharacters: 10000}, "", nil)
	assert.Len(t, pack.Items, 1)
}

func TestBuild_PropagatesWarnings(t *testing.T) {
	pack := Build(nil, nil, nil, Limits{MaxContextItems: 10, MaxTotalCharacters: 10000}, "", []string{"kg_drift"})
	assert.Equal(t, []string{"kg_drift"}, pack.Warnings)
}
