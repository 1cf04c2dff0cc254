// Package seed extracts the bounded seed set S0 (touched symbols and files)
// from parsed patches. When no language-aware pass is available, symbol
// extraction falls back to regex matching over the file source; the dual
// symbol identifiers live on model.SeedSymbol (VersionID/StableID).
package seed

import (
	"regexp"
	"sort"

	"github.com/sevigo/reviewcore/internal/model"
)

// SymbolExtractor discovers the symbol enclosing a changed line, when a
// language-aware pass is available. Only a regex-based Go-oriented default
// ships; the interface leaves room for per-language extractors.
type SymbolExtractor interface {
	// EnclosingDefinitions returns every top-level symbol definition found
	// anywhere in src, regardless of which lines changed — the caller
	// intersects this with changed line ranges.
	EnclosingDefinitions(filePath string, src []string) []model.SeedSymbol
}

// Limits bounds the seed set.
type Limits struct {
	MaxSeedSymbols int
	MaxSeedFiles   int
}

// Extract builds S0 from the parsed patches. Every non-binary patch's file
// becomes a seed file. When extractor is non-nil, added/modified lines are
// matched against the file's enclosing definitions to produce seed symbols;
// dedup is by (file_path, qualified_name|name, kind). Overflow is truncated
// deterministically: file path ascending, then symbol start line ascending.
func Extract(patches []model.PRFilePatch, fileSources map[string][]string, extractor SymbolExtractor, limits Limits) model.SeedSetS0 {
	var files []model.SeedFile
	var symbols []model.SeedSymbol
	seen := map[string]struct{}{}

	for _, p := range patches {
		if p.IsBinary {
			continue
		}
		files = append(files, model.SeedFile{FilePath: p.FilePath, Reason: "touched_by_pr"})

		if extractor == nil || len(p.Hunks) == 0 {
			continue
		}
		src, ok := fileSources[p.FilePath]
		if !ok {
			continue
		}
		changedLines := changedNewLineSet(p.Hunks)
		if len(changedLines) == 0 {
			continue
		}
		for _, sym := range extractor.EnclosingDefinitions(p.FilePath, src) {
			if !symbolTouchesLines(sym, changedLines) {
				continue
			}
			key := sym.DedupKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			symbols = append(symbols, sym)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].FilePath < files[j].FilePath })
	sort.Slice(symbols, func(i, j int) bool {
		if symbols[i].FilePath != symbols[j].FilePath {
			return symbols[i].FilePath < symbols[j].FilePath
		}
		return symbols[i].StartLine < symbols[j].StartLine
	})

	truncated := false
	if limits.MaxSeedFiles > 0 && len(files) > limits.MaxSeedFiles {
		files = files[:limits.MaxSeedFiles]
		truncated = true
	}
	if limits.MaxSeedSymbols > 0 && len(symbols) > limits.MaxSeedSymbols {
		symbols = symbols[:limits.MaxSeedSymbols]
		truncated = true
	}

	return model.SeedSetS0{
		Symbols:        symbols,
		Files:          files,
		SeedTruncated:  truncated,
		MaxSeedSymbols: limits.MaxSeedSymbols,
		MaxSeedFiles:   limits.MaxSeedFiles,
	}
}

// changedNewLineSet returns the set of absolute new-file line numbers touched
// by addition lines across a file's hunks.
func changedNewLineSet(hunks []model.Hunk) map[int]struct{} {
	set := map[int]struct{}{}
	for _, h := range hunks {
		newLine := h.NewStart
		for _, line := range h.Lines {
			if line.Tag == model.LineDeletion {
				continue
			}
			if line.Tag == model.LineAddition {
				set[newLine] = struct{}{}
			}
			newLine++
		}
	}
	return set
}

func symbolTouchesLines(sym model.SeedSymbol, changed map[int]struct{}) bool {
	for line := range changed {
		if line >= sym.StartLine && line <= sym.EndLine {
			return true
		}
	}
	return false
}

// GoRegexExtractor is the default SymbolExtractor: it matches top-level Go
// function/method and type declarations via regex.
type GoRegexExtractor struct{}

var (
	funcRe       = regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	methodRecvRe = regexp.MustCompile(`^func\s+\(`)
	typeRe       = regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:struct|interface)\b`)
)

// EnclosingDefinitions performs a best-effort single pass over src to find
// declaration spans; a declaration's span runs from its header line to the
// line before the next top-level declaration (or EOF).
func (GoRegexExtractor) EnclosingDefinitions(filePath string, src []string) []model.SeedSymbol {
	type decl struct {
		name string
		kind model.SymbolKind
		line int
	}
	var decls []decl
	for i, line := range src {
		if m := funcRe.FindStringSubmatch(line); m != nil {
			kind := model.KindFunction
			if methodRecvRe.MatchString(line) {
				kind = model.KindMethod
			}
			decls = append(decls, decl{name: m[1], kind: kind, line: i + 1})
		} else if m := typeRe.FindStringSubmatch(line); m != nil {
			decls = append(decls, decl{name: m[1], kind: model.KindClass, line: i + 1})
		}
	}

	symbols := make([]model.SeedSymbol, 0, len(decls))
	for i, d := range decls {
		end := len(src)
		if i+1 < len(decls) {
			end = decls[i+1].line - 1
		}
		symbols = append(symbols, model.SeedSymbol{
			FilePath:  filePath,
			Name:      d.name,
			Kind:      d.kind,
			StartLine: d.line,
			EndLine:   end,
		})
	}
	return symbols
}
