// Package anchor implements the finding anchorer: the deterministic
// mapping of an LLM-produced Finding to a specific (file, hunk_id,
// line_in_hunk) inside the pull request's diff
//
// Three strategies run in fixed order — evidence, hint, fallback — and the
// first to produce a valid anchor wins. Validity always means the same
// thing: (file_path, hunk_id) is an allowed anchor and line_in_hunk falls
// inside the hunk's line range. Nothing here ever panics or returns an
// error; a finding that cannot be anchored is simply reported unanchored.
package anchor

import (
	"github.com/sevigo/reviewcore/internal/model"
)

// Confidence levels per strategy
const (
	confidenceEvidence        = 0.9
	confidenceHint            = 0.7
	confidenceFallbackHunk    = 0.5
	confidenceFallbackNoHunks = 0.4
)

// Result is the anchorer's output: findings partitioned into anchored and unanchored,
// plus per-strategy stats.
type Result struct {
	Anchored   []model.Finding
	Unanchored []model.Finding
	Stats      model.AnchoringStats
}

// Anchor runs all three strategies over every finding in findings, grounded
// by mappings. pack resolves evidence.context_item_id to a ContextItem; it
// may be nil, in which case strategy 1 is skipped for every finding (it
// simply never succeeds, falling through to strategy 2).
func Anchor(findings []model.Finding, mappings *model.DiffMappings, pack *model.ContextPack) Result {
	if mappings == nil {
		return degrade(findings)
	}

	items := indexItems(pack)

	res := Result{Stats: model.AnchoringStats{
		Total:    len(findings),
		ByMethod: map[model.AnchoringMethod]int{},
	}}

	for _, f := range findings {
		if _, ok := mappings.AllFilePaths[f.FilePath]; !ok {
			res.Unanchored = append(res.Unanchored, f)
			continue
		}

		anchored := f
		ok := tryEvidence(&anchored, mappings, items)
		if !ok {
			ok = tryHint(&anchored, mappings)
		}
		if !ok {
			ok = tryFallback(&anchored, mappings)
		}

		if ok {
			anchored.Anchored = true
			res.Anchored = append(res.Anchored, anchored)
			res.Stats.AnchoredCount++
			res.Stats.ByMethod[anchored.AnchoringMethod]++
		} else {
			res.Unanchored = append(res.Unanchored, f)
		}
	}

	res.Stats.UnanchoredCount = len(res.Unanchored)
	return res
}

// degrade is the graceful-degradation path: under total
// failure of the node (e.g. nil DiffMappings), every finding is returned
// unanchored with a "degraded" method tag so it can still appear in the
// review summary.
func degrade(findings []model.Finding) Result {
	res := Result{
		Unanchored: make([]model.Finding, len(findings)),
		Stats: model.AnchoringStats{
			Total:    len(findings),
			Degraded: true,
			ByMethod: map[model.AnchoringMethod]int{},
		},
	}
	for i, f := range findings {
		f.AnchoringMethod = model.AnchorDegraded
		res.Unanchored[i] = f
	}
	res.Stats.UnanchoredCount = len(findings)
	return res
}

func indexItems(pack *model.ContextPack) map[string]model.ContextItem {
	if pack == nil {
		return nil
	}
	idx := make(map[string]model.ContextItem, len(pack.Items))
	for _, it := range pack.Items {
		idx[it.ItemID] = it
	}
	return idx
}

// tryEvidence is Strategy 1 (confidence 0.9). It requires evidence on the
// finding and a resolvable ContextItem; the target line is the item's
// start_line plus the evidence's snippet offset, looked up in
// line_to_hunk_lookup against the finding's own file_path (falling back to
// the context item's file_path when the finding carries none).
func tryEvidence(f *model.Finding, mappings *model.DiffMappings, items map[string]model.ContextItem) bool {
	if f.Evidence == nil || f.Evidence.ContextItemID == "" || items == nil {
		return false
	}
	item, ok := items[f.Evidence.ContextItemID]
	if !ok {
		return false
	}

	filePath := f.FilePath
	if filePath == "" {
		filePath = item.FilePath
	}
	target := item.StartLine + f.Evidence.SnippetLineRange[0]

	ref, ok := mappings.LineToHunkLookup[model.LineKey{FilePath: filePath, NewLine: target}]
	if !ok {
		return false
	}
	return commit(f, filePath, ref.HunkID, ref.LineInHunk, model.AnchorEvidence, confidenceEvidence, mappings)
}

// tryHint is Strategy 2 (confidence 0.7). It requires a hunk_id hint that is
// allowed for the finding's file. A line_hint inside [0, hunk.line_count) is
// used as-is; otherwise it's interpreted as an absolute new-file line and
// only accepted if it maps back to the same hunk_id. With no usable
// line_hint, it anchors to the hunk's first added line (or 0).
func tryHint(f *model.Finding, mappings *model.DiffMappings) bool {
	if f.HunkIDHint == "" {
		return false
	}
	if !mappings.IsAllowedAnchor(f.FilePath, f.HunkIDHint) {
		return false
	}
	hunk, ok := mappings.HunkByID(f.FilePath, f.HunkIDHint)
	if !ok {
		return false
	}

	if f.LineHint != nil {
		if *f.LineHint >= 0 && *f.LineHint < hunk.LineCount() {
			return commit(f, f.FilePath, f.HunkIDHint, *f.LineHint, model.AnchorHint, confidenceHint, mappings)
		}
		ref, ok := mappings.LineToHunkLookup[model.LineKey{FilePath: f.FilePath, NewLine: *f.LineHint}]
		if ok && ref.HunkID == f.HunkIDHint {
			return commit(f, f.FilePath, ref.HunkID, ref.LineInHunk, model.AnchorHint, confidenceHint, mappings)
		}
	}

	added := hunk.AddedLineIndexes()
	line := 0
	if len(added) > 0 {
		line = added[0]
	}
	return commit(f, f.FilePath, f.HunkIDHint, line, model.AnchorHint, confidenceHint, mappings)
}

// tryFallback is Strategy 3 (confidence 0.4-0.5). It picks the first hunk of
// the file with any additions and anchors to its first added index; if no
// hunk has additions it anchors to the first hunk, line 0.
func tryFallback(f *model.Finding, mappings *model.DiffMappings) bool {
	hunk, hasAdditions := mappings.FirstHunkWithAdditions(f.FilePath)
	if hunk == nil {
		return false
	}

	if hasAdditions {
		added := hunk.AddedLineIndexes()
		return commit(f, f.FilePath, hunk.HunkID, added[0], model.AnchorFallback, confidenceFallbackHunk, mappings)
	}
	return commit(f, f.FilePath, hunk.HunkID, 0, model.AnchorFallback, confidenceFallbackNoHunks, mappings)
}

// commit validates (file_path, hunk_id, line_in_hunk) against
// allowed_anchors/line_count one last time before writing it onto f, per the
// validity definition shared by all three strategies.
func commit(f *model.Finding, filePath, hunkID string, lineInHunk int, method model.AnchoringMethod, confidence float64, mappings *model.DiffMappings) bool {
	if !mappings.IsAllowedAnchor(filePath, hunkID) {
		return false
	}
	hunk, ok := mappings.HunkByID(filePath, hunkID)
	if !ok || lineInHunk < 0 || lineInHunk >= hunk.LineCount() {
		return false
	}

	f.FilePath = filePath
	f.HunkID = hunkID
	f.LineInHunk = lineInHunk
	f.AnchoringMethod = method
	f.AnchoringConfidence = confidence
	return true
}
