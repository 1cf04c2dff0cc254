package diff

import (
	"log/slog"

	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/pipelineerr"
)

// ParseResult is the output of parsing a full pull request's file list:
// the parsed patches, the derived mappings, and any per-file parse errors
// (kept local, never fatal).
type ParseResult struct {
	Patches    []model.PRFilePatch
	Mappings   *model.DiffMappings
	FileErrors map[string]error
}

// ParsePullRequest parses every raw file in files and builds DiffMappings in
// a single pass. A file that fails to parse is skipped for hunk purposes but
// still counted among Patches ("InvalidDiffFormat is fatal
// per file; the pipeline continues with remaining files").
//
// maxChangedFiles bounds the run: if len(files) exceeds
// it, parsing aborts before doing any work.
func ParsePullRequest(files []RawFile, maxChangedFiles int, logger *slog.Logger) (*ParseResult, error) {
	if maxChangedFiles > 0 && len(files) > maxChangedFiles {
		return nil, pipelineerr.PRTooLarge(len(files), maxChangedFiles)
	}

	result := &ParseResult{FileErrors: map[string]error{}}
	for _, f := range files {
		pr := ParseFile(f, logger)
		result.Patches = append(result.Patches, *pr.Patch)
		if pr.Err != nil {
			result.FileErrors[pr.Patch.FilePath] = pr.Err
		}
	}

	parseable := 0
	for _, p := range result.Patches {
		if p.ParseError == nil {
			parseable++
		}
	}
	if parseable == 0 {
		return nil, pipelineerr.NoParseableFiles()
	}

	result.Mappings = BuildMappings(result.Patches)
	return result, nil
}

// BuildMappings walks every patch's hunks, maintaining a running new-file
// line counter that increments on context/addition lines (not deletions),
// and populates line_to_hunk_lookup for every non-deletion line plus the
// allowed_anchors set. Running this twice on the same patches yields a
// byte-identical result.
func BuildMappings(patches []model.PRFilePatch) *model.DiffMappings {
	mappings := &model.DiffMappings{
		AllFilePaths:     map[string]struct{}{},
		AllHunkIDs:       map[string]struct{}{},
		AllowedAnchors:   map[model.FileHunkKey]struct{}{},
		LineToHunkLookup: map[model.LineKey]model.HunkLineRef{},
		Patches:          map[string]*model.PRFilePatch{},
	}

	for i := range patches {
		p := &patches[i]
		mappings.AllFilePaths[p.FilePath] = struct{}{}
		mappings.Patches[p.FilePath] = p

		for hi := range p.Hunks {
			h := &p.Hunks[hi]
			mappings.AllHunkIDs[h.HunkID] = struct{}{}
			mappings.AllowedAnchors[model.FileHunkKey{FilePath: p.FilePath, HunkID: h.HunkID}] = struct{}{}

			newLine := h.NewStart
			for li, line := range h.Lines {
				switch line.Tag {
				case model.LineDeletion:
					// deletion lines do not occupy a new-file line number
					continue
				default:
					mappings.LineToHunkLookup[model.LineKey{FilePath: p.FilePath, NewLine: newLine}] = model.HunkLineRef{
						HunkID:     h.HunkID,
						LineInHunk: li,
					}
					newLine++
				}
			}
		}
	}
	return mappings
}
