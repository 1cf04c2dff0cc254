// Package snippet safely reads line ranges out of the local clone for
// candidates that need source text. Paths are resolved and prefix-checked
// against the clone root before any read; encoding detection tries UTF-8
// first and falls back to chardet; each file's read and decode result is
// cached for the rest of the run.
package snippet

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// Limits bounds the per-file and per-line extraction rules.
type Limits struct {
	MaxFileSizeBytes int64
	MaxLineLength    int
}

const defaultWindow = 50

var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".ico": {}, ".pdf": {},
	".zip": {}, ".gz": {}, ".tar": {}, ".exe": {}, ".dll": {}, ".so": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {}, ".bin": {}, ".webp": {},
}

// Result is what the extractor hands back for one requested range. It never returns an
// error to the caller — it always returns a Result and lets the caller
// consult ExtractionSuccess/ExtractionError.
type Result struct {
	Content           string
	StartLine         int
	EndLine           int
	IsTruncated       bool
	IsBinary          bool
	ExtractionSuccess bool
	ExtractionError   string
}

type fileEntry struct {
	lines    []string
	encoding string
	size     int64
	isBinary bool
	err      error
}

// Extractor reads ranges from a single clone root, caching decoded file
// content once per file for the lifetime of one pipeline run.
type Extractor struct {
	cloneRoot string
	limits    Limits

	mu    sync.Mutex
	cache map[string]*fileEntry
}

// New constructs an Extractor scoped to cloneRoot, an absolute path to the
// checked-out repository for this run.
func New(cloneRoot string, limits Limits) *Extractor {
	if limits.MaxLineLength <= 0 {
		limits.MaxLineLength = 2000
	}
	if limits.MaxFileSizeBytes <= 0 {
		limits.MaxFileSizeBytes = 2 << 20 // 2 MiB
	}
	return &Extractor{cloneRoot: cloneRoot, limits: limits, cache: map[string]*fileEntry{}}
}

// Extract reads [startLine, endLine] (1-indexed, inclusive) from filePath.
// If endLine is 0, a default 50-line window starting at startLine is used.
func (e *Extractor) Extract(filePath string, startLine, endLine int) Result {
	entry := e.load(filePath)
	if entry.err != nil {
		return Result{ExtractionSuccess: false, ExtractionError: entry.err.Error()}
	}
	if entry.isBinary {
		return Result{IsBinary: true, ExtractionSuccess: false, ExtractionError: "binary file"}
	}

	if startLine < 1 {
		startLine = 1
	}
	if endLine <= 0 {
		endLine = startLine + defaultWindow - 1
	}
	if endLine < startLine {
		endLine = startLine
	}
	total := len(entry.lines)
	if startLine > total {
		return Result{ExtractionSuccess: false, ExtractionError: "start line beyond end of file"}
	}
	if endLine > total {
		endLine = total
	}

	truncated := false
	selected := make([]string, 0, endLine-startLine+1)
	for i := startLine; i <= endLine; i++ {
		line := entry.lines[i-1]
		if len(line) > e.limits.MaxLineLength {
			line = line[:e.limits.MaxLineLength] + "...[truncated]"
			truncated = true
		}
		selected = append(selected, line)
	}

	return Result{
		Content:           strings.Join(selected, "\n"),
		StartLine:         startLine,
		EndLine:           endLine,
		IsTruncated:       truncated,
		ExtractionSuccess: true,
	}
}

// Lines returns the decoded lines of filePath from the per-run cache,
// loading the file on first access. ok is false when the file could not be
// read or is binary.
func (e *Extractor) Lines(filePath string) ([]string, bool) {
	entry := e.load(filePath)
	if entry.err != nil || entry.isBinary {
		return nil, false
	}
	return entry.lines, true
}

// load resolves, validates, reads and decodes filePath and memoizes the
// result, successes and failures alike, so later calls are cheap.
// Concurrent first calls for the same path are not coalesced: each one reads
// the file, and the last result stored is kept.
func (e *Extractor) load(filePath string) *fileEntry {
	e.mu.Lock()
	if entry, ok := e.cache[filePath]; ok {
		e.mu.Unlock()
		return entry
	}
	e.mu.Unlock()

	entry := e.readFile(filePath)

	e.mu.Lock()
	e.cache[filePath] = entry
	e.mu.Unlock()
	return entry
}

func (e *Extractor) readFile(filePath string) *fileEntry {
	abs, err := e.resolvePath(filePath)
	if err != nil {
		return &fileEntry{err: err}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return &fileEntry{err: fmt.Errorf("stat %s: %w", filePath, err)}
	}
	if info.IsDir() {
		return &fileEntry{err: fmt.Errorf("%s is a directory", filePath)}
	}
	if info.Size() > e.limits.MaxFileSizeBytes {
		return &fileEntry{err: fmt.Errorf("%s exceeds max_file_size_bytes (%d > %d)", filePath, info.Size(), e.limits.MaxFileSizeBytes)}
	}
	if _, ok := binaryExtensions[strings.ToLower(filepath.Ext(filePath))]; ok {
		return &fileEntry{isBinary: true, size: info.Size()}
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return &fileEntry{err: fmt.Errorf("read %s: %w", filePath, err)}
	}

	head := raw
	if len(head) > 1024 {
		head = head[:1024]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return &fileEntry{isBinary: true, size: info.Size()}
	}

	text, enc := decode(raw)
	return &fileEntry{lines: strings.Split(text, "\n"), encoding: enc, size: info.Size()}
}

// resolvePath joins cloneRoot and filePath, rejecting anything that escapes
// cloneRoot after canonicalization.
func (e *Extractor) resolvePath(filePath string) (string, error) {
	cleanRoot, err := filepath.Abs(e.cloneRoot)
	if err != nil {
		return "", fmt.Errorf("invalid clone root: %w", err)
	}
	joined := filepath.Join(cleanRoot, filePath)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	rel, err := filepath.Rel(cleanRoot, abs)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path traversal attempt detected: %s", filePath)
	}
	return abs, nil
}

// decode attempts UTF-8 first; on invalid UTF-8 it runs chardet over the
// first 8 KiB and accepts its guess only above a 0.7 confidence threshold,
// otherwise falling back to UTF-8 with lossy replacement.
func decode(raw []byte) (string, string) {
	if utf8.Valid(raw) {
		return string(raw), "utf-8"
	}

	sample := raw
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(sample)
	if err == nil && result != nil && result.Confidence >= 70 {
		if enc, err := htmlindex.Get(result.Charset); err == nil {
			if decoded, err := enc.NewDecoder().Bytes(raw); err == nil {
				return string(decoded), strings.ToLower(result.Charset)
			}
		}
	}

	return strings.ToValidUTF8(string(raw), "�"), "utf-8-lossy"
}
