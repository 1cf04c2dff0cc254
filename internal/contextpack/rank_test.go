package contextpack

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sevigo/reviewcore/internal/model"
)

// These are golden tests: they lock the scoring formula's actual outputs so
// a future change to the arithmetic is a visible, deliberate diff.

func TestScore_SymbolMatchNoMappings(t *testing.T) {
	c := model.KGCandidate{CandidateType: model.CandidateSymbolMatch, RelativePath: "a.go", StartLine: 10}
	assert.InDelta(t, 0.8, Score(c, nil, 0), 1e-9)
}

func TestScore_DocIsLowestBaseWeight(t *testing.T) {
	doc := model.KGCandidate{CandidateType: model.CandidateDoc}
	imp := model.KGCandidate{CandidateType: model.CandidateImport}
	assert.Less(t, Score(doc, nil, 0), Score(imp, nil, 0))
}

func TestScore_CallerOutranksContains(t *testing.T) {
	caller := model.KGCandidate{CandidateType: model.CandidateNeighbor, Relationship: model.RelCaller}
	contains := model.KGCandidate{CandidateType: model.CandidateNeighbor, Relationship: model.RelContains}
	assert.Greater(t, Score(caller, nil, 0), Score(contains, nil, 0))
}

func TestScore_ProximityBoostsNearbyCandidate(t *testing.T) {
	mappings := &model.DiffMappings{
		Patches: map[string]*model.PRFilePatch{
			"a.go": {
				FilePath: "a.go",
				Hunks: []model.Hunk{
					{
						NewStart: 10,
						Lines: []model.HunkLine{
							{Tag: model.LineAddition, Text: "x"},
						},
					},
				},
			},
		},
	}
	near := model.KGCandidate{CandidateType: model.CandidateNeighbor, Relationship: model.RelContains, RelativePath: "a.go", StartLine: 11}
	far := model.KGCandidate{CandidateType: model.CandidateNeighbor, Relationship: model.RelContains, RelativePath: "a.go", StartLine: 5000}
	assert.Greater(t, Score(near, mappings, 0), Score(far, mappings, 0))
}

func TestScore_SizePenaltyCappedAndNeverNegative(t *testing.T) {
	c := model.KGCandidate{CandidateType: model.CandidateDoc}
	score := Score(c, nil, 1_000_000)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.InDelta(t, classWeight(c)*0.8-0.15, score, 1e-9)
}

func TestScore_ClampedToOne(t *testing.T) {
	mappings := &model.DiffMappings{
		Patches: map[string]*model.PRFilePatch{
			"a.go": {
				FilePath: "a.go",
				Hunks: []model.Hunk{
					{NewStart: 10, Lines: []model.HunkLine{{Tag: model.LineAddition, Text: "x"}}},
				},
			},
		},
	}
	c := model.KGCandidate{CandidateType: model.CandidateSymbolMatch, RelativePath: "a.go", StartLine: 10}
	assert.LessOrEqual(t, Score(c, mappings, 0), 1.0)
}

func TestClassPriority_Ordering(t *testing.T) {
	symbol := model.KGCandidate{CandidateType: model.CandidateSymbolMatch}
	caller := model.KGCandidate{CandidateType: model.CandidateNeighbor, Relationship: model.RelCaller}
	contains := model.KGCandidate{CandidateType: model.CandidateNeighbor, Relationship: model.RelContains}
	imp := model.KGCandidate{CandidateType: model.CandidateImport}
	doc := model.KGCandidate{CandidateType: model.CandidateDoc}

	assert.Less(t, classPriority(symbol), classPriority(caller))
	assert.Less(t, classPriority(caller), classPriority(contains))
	assert.Less(t, classPriority(contains), classPriority(imp))
	assert.Less(t, classPriority(imp), classPriority(doc))
}
