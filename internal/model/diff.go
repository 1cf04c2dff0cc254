package model

// ChangeType enumerates how a file was touched by the pull request.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// LineTag classifies a single line inside a Hunk.
type LineTag string

const (
	LineContext  LineTag = "context"
	LineAddition LineTag = "addition"
	LineDeletion LineTag = "deletion"
	LineNoEOL    LineTag = "noeol"
)

// HunkLine is one tagged line inside a Hunk.
type HunkLine struct {
	Tag  LineTag
	Text string
}

// Hunk is one `@@ ... @@` block of a unified diff for a single file.
type Hunk struct {
	HunkID   string
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []HunkLine
}

// AddedLineIndexes returns the 0-based indexes into Lines tagged addition.
func (h *Hunk) AddedLineIndexes() []int {
	var idx []int
	for i, l := range h.Lines {
		if l.Tag == LineAddition {
			idx = append(idx, i)
		}
	}
	return idx
}

// LineCount is the derived length of Lines.
func (h *Hunk) LineCount() int { return len(h.Lines) }

// PRFilePatch is one file's change within the pull request.
type PRFilePatch struct {
	FilePath     string
	ChangeType   ChangeType
	PreviousPath string // only set when ChangeType == ChangeRenamed
	Additions    int
	Deletions    int
	Changes      int
	Hunks        []Hunk
	IsBinary     bool
	ParseError   error // set when InvalidDiffFormat occurred for this file
}

// IsPureRename reports whether this patch is a rename with no content change.
func (p *PRFilePatch) IsPureRename() bool {
	return p.ChangeType == ChangeRenamed && p.Additions == 0 && p.Deletions == 0
}

// HunkLineRef locates a line inside a hunk by its 0-based offset.
type HunkLineRef struct {
	HunkID     string
	LineInHunk int
}

// FileHunkKey identifies an allowed anchor target.
type FileHunkKey struct {
	FilePath string
	HunkID   string
}

// LineKey locates an absolute new-file line inside a specific file.
type LineKey struct {
	FilePath string
	NewLine  int
}

// DiffMappings is derived once from a parsed set of patches and is read-only
// for the rest of the run.
type DiffMappings struct {
	AllFilePaths     map[string]struct{}
	AllHunkIDs       map[string]struct{}
	AllowedAnchors   map[FileHunkKey]struct{}
	LineToHunkLookup map[LineKey]HunkLineRef
	Patches          map[string]*PRFilePatch // by file path, for hunk lookups
}

// HunkByID returns the hunk with the given id within filePath, if any.
func (d *DiffMappings) HunkByID(filePath, hunkID string) (*Hunk, bool) {
	patch, ok := d.Patches[filePath]
	if !ok {
		return nil, false
	}
	for i := range patch.Hunks {
		if patch.Hunks[i].HunkID == hunkID {
			return &patch.Hunks[i], true
		}
	}
	return nil, false
}

// IsAllowedAnchor reports whether (filePath, hunkID) is a valid anchor target.
func (d *DiffMappings) IsAllowedAnchor(filePath, hunkID string) bool {
	_, ok := d.AllowedAnchors[FileHunkKey{FilePath: filePath, HunkID: hunkID}]
	return ok
}

// FirstHunkWithAdditions returns the first hunk of filePath (in patch order)
// that has at least one addition line, used by the anchorer's fallback strategy.
func (d *DiffMappings) FirstHunkWithAdditions(filePath string) (*Hunk, bool) {
	patch, ok := d.Patches[filePath]
	if !ok || len(patch.Hunks) == 0 {
		return nil, false
	}
	for i := range patch.Hunks {
		if len(patch.Hunks[i].AddedLineIndexes()) > 0 {
			return &patch.Hunks[i], true
		}
	}
	return &patch.Hunks[0], false
}
