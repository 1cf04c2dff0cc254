// Package contextpack scores KG candidates for relevance and packs them
// into a budget-constrained, deterministically ordered ContextPack. The
// scoring formula is fixed and locked by the golden test in rank_test.go
// rather than left implicit.
package contextpack

import (
	"math"

	"github.com/sevigo/reviewcore/internal/model"
)

// classWeight is the base relevance weight for each provenance class/
// relationship: "seed-touched > direct caller/callee >
// contains > import neighbor > doc".
func classWeight(c model.KGCandidate) float64 {
	switch c.CandidateType {
	case model.CandidateSymbolMatch:
		return 1.0
	case model.CandidateNeighbor:
		switch c.Relationship {
		case model.RelCaller, model.RelCallee:
			return 0.85
		case model.RelContains:
			return 0.7
		default:
			return 0.6
		}
	case model.CandidateImport:
		return 0.5
	case model.CandidateDoc:
		return 0.4
	default:
		return 0.3
	}
}

// proximity returns a [0,1] score for how close candidate's start line is to
// the nearest added line in its own file, using a gentle
// inverse-distance falloff. Candidates whose file isn't part of the diff, or
// that carry no line information, score zero proximity (they simply fall
// back to classWeight alone).
func proximity(c model.KGCandidate, mappings *model.DiffMappings) float64 {
	if mappings == nil || c.StartLine <= 0 {
		return 0
	}
	patch, ok := mappings.Patches[c.RelativePath]
	if !ok {
		return 0
	}
	best := math.MaxInt32
	for _, h := range patch.Hunks {
		line := h.NewStart
		for _, l := range h.Lines {
			if l.Tag == model.LineDeletion {
				continue
			}
			if l.Tag == model.LineAddition {
				d := line - c.StartLine
				if d < 0 {
					d = -d
				}
				if d < best {
					best = d
				}
			}
			line++
		}
	}
	if best == math.MaxInt32 {
		return 0
	}
	return 1.0 / (1.0 + float64(best)/50.0)
}

// sizePenalty shaves a small amount off the score for very large snippets,
// capped so it can never push a score negative on its own.
func sizePenalty(charCount int) float64 {
	p := float64(charCount) / 20000.0
	if p > 0.15 {
		p = 0.15
	}
	return p
}

// Score computes the final relevance score in [0,1] for one candidate whose
// snippet is charCount characters long. The formula: 80% base provenance
// weight blended with 20% proximity-to-change for in-file candidates, minus
// a small large-snippet penalty, clamped to [0,1].
func Score(c model.KGCandidate, mappings *model.DiffMappings, charCount int) float64 {
	base := classWeight(c)
	prox := proximity(c, mappings)
	score := base*0.8 + prox*0.2 - sizePenalty(charCount)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// classPriority orders provenance classes for the packer's group-then-sort
// pass, matching the same "seed > caller/callee > contains > import > doc"
// ordering Score's weights encode.
func classPriority(c model.KGCandidate) int {
	switch c.CandidateType {
	case model.CandidateSymbolMatch:
		return 0
	case model.CandidateNeighbor:
		switch c.Relationship {
		case model.RelCaller, model.RelCallee:
			return 1
		case model.RelContains:
			return 2
		default:
			return 3
		}
	case model.CandidateImport:
		return 3
	case model.CandidateDoc:
		return 4
	default:
		return 5
	}
}
