// Package diff parses unified-diff patches from a pull request's file list
// into the Hunk/DiffMappings model and builds the line lookups the rest of
// the pipeline anchors against.
package diff

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/pipelineerr"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".ico": {}, ".pdf": {},
	".zip": {}, ".gz": {}, ".tar": {}, ".exe": {}, ".dll": {}, ".so": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {}, ".bin": {}, ".webp": {},
}

// RawFile is the code-host's representation of one changed file before
// parsing (mirrors GitHub's pulls/files API shape).
type RawFile struct {
	FilePath     string
	PreviousPath string
	ChangeType   model.ChangeType
	Additions    int
	Deletions    int
	Changes      int
	Patch        string // empty for binary files
	IsBinary     bool
}

// ParseFile parses one RawFile into a PRFilePatch. Binary files and pure
// renames produce an empty-hunks patch. A malformed patch is recorded as a
// local, per-file InvalidDiffFormat error on the returned patch rather than
// returned as an error — the pipeline continues with remaining files.
func ParseFile(raw RawFile, logger *slog.Logger) *PRFilePatchResult {
	patch := &model.PRFilePatch{
		FilePath:     normalizePath(raw.FilePath),
		ChangeType:   raw.ChangeType,
		PreviousPath: raw.PreviousPath,
		Additions:    raw.Additions,
		Deletions:    raw.Deletions,
		Changes:      raw.Changes,
		IsBinary:     raw.IsBinary,
	}

	if raw.IsBinary {
		return &PRFilePatchResult{Patch: patch}
	}
	if patch.IsPureRename() && raw.Patch == "" {
		return &PRFilePatchResult{Patch: patch}
	}
	if raw.Patch == "" {
		// Nothing to parse, not an error (e.g. mode-only changes).
		return &PRFilePatchResult{Patch: patch}
	}

	hunks, err := parseHunks(patch.FilePath, raw.Patch)
	if err != nil {
		logger.Warn("invalid diff format", "file_path", patch.FilePath, "error", err)
		patch.ParseError = pipelineerr.InvalidDiffFormat(patch.FilePath, err)
		return &PRFilePatchResult{Patch: patch, Err: patch.ParseError}
	}
	patch.Hunks = hunks
	return &PRFilePatchResult{Patch: patch}
}

// PRFilePatchResult pairs a parsed patch with an optional local error.
type PRFilePatchResult struct {
	Patch *model.PRFilePatch
	Err   error
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(p, "/")
}

func parseHunks(filePath, patch string) ([]model.Hunk, error) {
	lines := strings.Split(patch, "\n")
	var hunks []model.Hunk
	var cur *model.Hunk
	ordinal := 0

	for _, line := range lines {
		if strings.HasPrefix(line, "@@") {
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("malformed hunk header: %q", line)
			}
			oldStart, _ := strconv.Atoi(m[1])
			oldCount := 1
			if m[2] != "" {
				oldCount, _ = strconv.Atoi(m[2])
			}
			newStart, _ := strconv.Atoi(m[3])
			newCount := 1
			if m[4] != "" {
				newCount, _ = strconv.Atoi(m[4])
			}
			if cur != nil {
				hunks = append(hunks, *cur)
			}
			cur = &model.Hunk{
				HunkID:   hunkID(filePath, ordinal, oldStart, newStart),
				OldStart: oldStart,
				OldCount: oldCount,
				NewStart: newStart,
				NewCount: newCount,
			}
			ordinal++
			continue
		}
		if cur == nil {
			continue // preamble (---/+++ file headers) before first hunk
		}
		if line == "" {
			cur.Lines = append(cur.Lines, model.HunkLine{Tag: model.LineContext, Text: ""})
			continue
		}
		switch line[0] {
		case ' ':
			cur.Lines = append(cur.Lines, model.HunkLine{Tag: model.LineContext, Text: line[1:]})
		case '+':
			cur.Lines = append(cur.Lines, model.HunkLine{Tag: model.LineAddition, Text: line[1:]})
		case '-':
			cur.Lines = append(cur.Lines, model.HunkLine{Tag: model.LineDeletion, Text: line[1:]})
		case '\\':
			if n := len(cur.Lines); n > 0 {
				cur.Lines[n-1].Tag = model.LineNoEOL
			}
		default:
			return nil, fmt.Errorf("unrecognized diff line prefix in %q", line)
		}
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}
	if len(hunks) == 0 {
		return nil, fmt.Errorf("patch for %s contained no hunks", filePath)
	}
	return hunks, nil
}

// hunkID derives a stable id from the file path, the hunk's ordinal position
// within the file, and its start lines
func hunkID(filePath string, ordinal, oldStart, newStart int) string {
	return fmt.Sprintf("%s:%d:%d:%d", filePath, ordinal, oldStart, newStart)
}

// IsCodeBinaryExtension reports whether ext (as returned by filepath.Ext,
// lower-cased) names a well-known binary file type.
func IsCodeBinaryExtension(ext string) bool {
	_, ok := binaryExtensions[strings.ToLower(ext)]
	return ok
}
