package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/reviewcore/internal/model"
)

func testPatches() []model.PRFilePatch {
	return []model.PRFilePatch{
		{
			FilePath:   "src/test.py",
			ChangeType: model.ChangeModified,
			Additions:  3,
			Deletions:  1,
			Hunks: []model.Hunk{
				{
					HunkID:   "src/test.py:h1:1:1",
					OldStart: 1, OldCount: 3, NewStart: 1, NewCount: 6,
					Lines: []model.HunkLine{
						{Tag: model.LineContext, Text: "def test():"},
						{Tag: model.LineDeletion, Text: "    return False"},
						{Tag: model.LineAddition, Text: "    # Updated"},
						{Tag: model.LineAddition, Text: "    result = calculate()"},
						{Tag: model.LineAddition, Text: "    return result"},
					},
				},
			},
		},
		{
			FilePath:   "logo.png",
			ChangeType: model.ChangeAdded,
			IsBinary:   true,
		},
	}
}

func testPack() *model.ContextPack {
	return &model.ContextPack{
		Items: []model.ContextItem{
			{
				ItemID:    "ctx_1",
				FilePath:  "src/calc.py",
				StartLine: 10,
				EndLine:   20,
				Text:      "def calculate():\n    return 42",
				Provenance: model.Provenance{
					Class:        "kg_neighbor",
					Relationship: model.RelCallee,
				},
				RelevanceScore: 0.8,
				CharacterCount: 30,
			},
		},
	}
}

func TestBuildReviewPrompt_Deterministic(t *testing.T) {
	pb, err := NewPromptBuilder()
	require.NoError(t, err)

	build := func() (string, string) {
		system, user, err := pb.BuildReviewPrompt(DefaultProvider, "owner/repo", 42, "abc123", testPatches(), testPack(), 20, []string{"Focus on error handling"})
		require.NoError(t, err)
		return system, user
	}

	s1, u1 := build()
	s2, u2 := build()
	assert.Equal(t, s1, s2, "system prompt must be byte-identical across builds")
	assert.Equal(t, u1, u2, "user prompt must be byte-identical across builds")
}

func TestBuildReviewPrompt_Content(t *testing.T) {
	pb, err := NewPromptBuilder()
	require.NoError(t, err)

	_, user, err := pb.BuildReviewPrompt(DefaultProvider, "owner/repo", 42, "abc123", testPatches(), testPack(), 15, nil)
	require.NoError(t, err)

	// Hunk ids and item ids are visible so the model can cite them.
	assert.Contains(t, user, "hunk_id: src/test.py:h1:1:1")
	assert.Contains(t, user, "[ctx_1]")
	assert.Contains(t, user, "+    result = calculate()")
	assert.Contains(t, user, "-    return False")

	// The grounding rule and the findings cap appear verbatim.
	assert.Contains(t, user, "MUST cite either an evidence.context_item_id")
	assert.Contains(t, user, "at most 15 findings")

	// Binary files never render hunks.
	assert.NotContains(t, user, "logo.png")

	// The embedded schema mirrors the finding shape.
	assert.Contains(t, user, `"finding_id"`)
	assert.Contains(t, user, `"suggested_fix"`)
}

func TestBuildReviewPrompt_EmptyPack(t *testing.T) {
	pb, err := NewPromptBuilder()
	require.NoError(t, err)

	_, user, err := pb.BuildReviewPrompt(DefaultProvider, "owner/repo", 1, "abc", testPatches(), &model.ContextPack{}, 20, nil)
	require.NoError(t, err)
	assert.Contains(t, user, "(no additional context was retrieved)")
}

func TestBuildRetryPrompt_AppendsDigest(t *testing.T) {
	pb, err := NewPromptBuilder()
	require.NoError(t, err)

	out, err := pb.BuildRetryPrompt(DefaultProvider, "ORIGINAL", []string{"summary too short", "finding 2: bad id"})
	require.NoError(t, err)
	assert.Contains(t, out, "ORIGINAL")
	assert.Contains(t, out, "summary too short")
	assert.Contains(t, out, "finding 2: bad id")
}
