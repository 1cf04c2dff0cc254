package contextpack

import (
	"fmt"
	"sort"

	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/snippet"
)

// SnippetSource is the narrow surface the packer needs from the snippet extractor: extract a line range
// from the local clone. *snippet.Extractor satisfies this directly.
type SnippetSource interface {
	Extract(filePath string, startLine, endLine int) snippet.Result
}

// Limits bounds the pack.
type Limits struct {
	MaxContextItems    int
	MaxTotalCharacters int
	MaxItemCharacters  int // per-item truncation bound
}

// symbolContextMargin is the number of extra lines read above and below a
// candidate's own line range when its snippet is extracted from the clone.
const symbolContextMargin = 3

// Build scores every candidate, extracts its snippet text, and greedily
// packs admitted items under the joint (items, characters) budget. It never
// fails: candidates whose snippet can't be extracted are dropped; no Stats
// counter records them.
func Build(candidates []model.KGCandidate, mappings *model.DiffMappings, source SnippetSource, limits Limits, kgCommitSHA string, warnings []string) model.ContextPack {
	if limits.MaxItemCharacters <= 0 {
		limits.MaxItemCharacters = 4000
	}

	type scored struct {
		cand  model.KGCandidate
		item  model.ContextItem
		score float64
	}

	var prepared []scored
	for _, c := range candidates {
		text, start, end, ok := extractText(c, source)
		if !ok {
			continue
		}
		charCount := len(text)
		score := Score(c, mappings, charCount)
		prepared = append(prepared, scored{
			cand: c,
			item: model.ContextItem{
				ItemID:         itemID(c),
				FilePath:       c.RelativePath,
				StartLine:      start,
				EndLine:        end,
				Text:           text,
				Provenance:     provenanceOf(c),
				RelevanceScore: score,
				CharacterCount: charCount,
			},
			score: score,
		})
	}

	sort.SliceStable(prepared, func(i, j int) bool {
		pi, pj := classPriority(prepared[i].cand), classPriority(prepared[j].cand)
		if pi != pj {
			return pi < pj
		}
		if prepared[i].score != prepared[j].score {
			return prepared[i].score > prepared[j].score
		}
		a, b := prepared[i].cand, prepared[j].cand
		if a.CandidateType != b.CandidateType {
			return a.CandidateType < b.CandidateType
		}
		if a.RelativePath != b.RelativePath {
			return a.RelativePath < b.RelativePath
		}
		return a.StartLine < b.StartLine
	})

	pack := model.ContextPack{KGCommitSHA: kgCommitSHA, Warnings: append([]string{}, warnings...)}
	seen := map[string]struct{}{}

	for _, p := range prepared {
		if len(pack.Items) >= limits.MaxContextItems {
			break
		}
		if _, dup := seen[p.item.ItemID]; dup {
			continue
		}

		text := p.item.Text
		truncated := false
		if len(text) > limits.MaxItemCharacters {
			text = text[:limits.MaxItemCharacters]
			truncated = true
		}
		charCount := len(text)

		remaining := limits.MaxTotalCharacters - pack.Stats.TotalCharacters
		if remaining <= 0 || charCount > remaining {
			pack.Stats.DroppedOversize++
			continue
		}

		p.item.Text = text
		p.item.CharacterCount = charCount
		if truncated {
			pack.Stats.Truncated++
		}

		seen[p.item.ItemID] = struct{}{}
		pack.Items = append(pack.Items, p.item)
		pack.Stats.Admitted++
		pack.Stats.TotalCharacters += charCount
	}

	return pack
}

func extractText(c model.KGCandidate, source SnippetSource) (text string, start, end int, ok bool) {
	if c.CandidateType == model.CandidateDoc && c.Text != "" {
		return c.Text, c.StartLine, c.EndLine, true
	}
	if c.RelativePath == "" || source == nil {
		return "", 0, 0, false
	}

	start, end = c.StartLine, c.EndLine
	if start > 0 {
		start -= symbolContextMargin
		if start < 1 {
			start = 1
		}
	}
	if end > 0 {
		end += symbolContextMargin
	}

	res := source.Extract(c.RelativePath, start, end)
	if !res.ExtractionSuccess {
		return "", 0, 0, false
	}
	return res.Content, res.StartLine, res.EndLine, true
}

func provenanceOf(c model.KGCandidate) model.Provenance {
	switch c.CandidateType {
	case model.CandidateSymbolMatch:
		return model.Provenance{Class: "seed"}
	case model.CandidateDoc:
		return model.Provenance{Class: "doc"}
	default:
		return model.Provenance{Class: "kg_neighbor", Relationship: c.Relationship}
	}
}

func itemID(c model.KGCandidate) string {
	return fmt.Sprintf("ctx_%s", c.NodeID)
}
