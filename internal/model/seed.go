package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SymbolKind enumerates the kinds of symbols the seed extractor emits.
type SymbolKind string

const (
	KindClass    SymbolKind = "class"
	KindFunction SymbolKind = "function"
	KindMethod   SymbolKind = "method"
)

// SeedSymbol is one symbol entry in the seed set S0. It carries two distinct
// identifiers: VersionID changes whenever the symbol moves or its span
// changes (used for anchoring/upserts within this snapshot); StableID
// survives rename/move and is used to correlate across snapshots. The two
// must never be collapsed into one.
type SeedSymbol struct {
	FilePath      string
	Name          string
	QualifiedName string
	Kind          SymbolKind
	Fingerprint   string // hash of AST node-type preorder, optional
	StartLine     int
	EndLine       int
	CommitSHA     string
}

// Validate enforces that at least one of QualifiedName/Name is non-empty.
func (s *SeedSymbol) Validate() error {
	if s.Name == "" && s.QualifiedName == "" {
		return fmt.Errorf("seed symbol must have a non-empty name or qualified_name")
	}
	return nil
}

// identOrName returns the best available identifier for id derivation.
func (s *SeedSymbol) identOrName() string {
	if s.QualifiedName != "" {
		return s.QualifiedName
	}
	return s.Name
}

// VersionID is a hash of (commit_sha, path, kind, ident, start:end) — it
// changes on move or span change, making it suitable for anchoring within a
// single snapshot.
func (s *SeedSymbol) VersionID() string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d:%d",
		s.CommitSHA, s.FilePath, s.Kind, s.identOrName(), s.StartLine, s.EndLine)))
	return hex.EncodeToString(h[:])[:24]
}

// StableID is a hash that prefers fingerprint, then qualified name, then
// name, so that it survives rename/move of the underlying symbol. repoID
// scopes it to a single repository.
func (s *SeedSymbol) StableID(repoID string) string {
	ident := s.Fingerprint
	if ident == "" {
		ident = s.identOrName()
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", repoID, s.Kind, ident)))
	return hex.EncodeToString(h[:])[:24]
}

// DedupKey identifies a seed symbol for deduplication:
// (file_path, qualified_name|name, kind).
func (s *SeedSymbol) DedupKey() string {
	return s.FilePath + "|" + s.identOrName() + "|" + string(s.Kind)
}

// SeedFile is one file-level entry in the seed set S0.
type SeedFile struct {
	FilePath string
	Reason   string
}

// SeedSetS0 is the bounded seed set produced by the seed extractor.
type SeedSetS0 struct {
	Symbols        []SeedSymbol
	Files          []SeedFile
	SeedTruncated  bool
	MaxSeedSymbols int
	MaxSeedFiles   int
}
