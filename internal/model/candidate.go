package model

// CandidateType is the tagged-union discriminator for KGCandidate.
type CandidateType string

const (
	CandidateSymbolMatch CandidateType = "symbol_match"
	CandidateNeighbor    CandidateType = "neighbor"
	CandidateImport      CandidateType = "import_neighbor"
	CandidateDoc         CandidateType = "doc"
)

// Relationship enumerates the KG relationship a neighbor candidate was
// reached through.
type Relationship string

const (
	RelCaller     Relationship = "caller"
	RelCallee     Relationship = "callee"
	RelContains   Relationship = "contains"
	RelImports    Relationship = "imports"
	RelImportedBy Relationship = "imported_by"
)

// KGCandidate is one node surfaced by the KG candidate retriever. Every
// candidate always carries the source node's identifying properties;
// neighbor-class candidates additionally carry the relationship that
// produced them plus the seed symbol's node id.
type KGCandidate struct {
	CandidateType CandidateType

	NodeID       string
	RepoID       string
	RelativePath string
	CommitSHA    string

	Relationship   Relationship // neighbor only
	SourceSymbolID string       // neighbor only

	// Optional properties populated when available from the KG row.
	Name      string
	StartLine int
	EndLine   int
	Text      string // doc nodes carry their text inline
}

// KGCandidateResult is the candidate retriever's output: a flat deduplicated candidate list plus
// class-keyed buckets for callers that want them, the KG's commit sha (which
// may differ from the request's head sha — a drift signal), and warnings.
type KGCandidateResult struct {
	Candidates []KGCandidate

	SymbolMatches   []KGCandidate
	Neighbors       []KGCandidate
	ImportNeighbors []KGCandidate
	Docs            []KGCandidate

	KGCommitSHA string
	Warnings    []string
}

// Provenance describes where a packed ContextItem came from.
type Provenance struct {
	Class        string // "seed" | "kg_neighbor" | "doc"
	Relationship Relationship
}

// ContextItem is one packed, ready-to-render piece of context.
type ContextItem struct {
	ItemID         string
	FilePath       string
	StartLine      int
	EndLine        int
	Text           string
	Provenance     Provenance
	RelevanceScore float64
	CharacterCount int
}

// ContextPackStats carries admitted/dropped/truncated counters.
type ContextPackStats struct {
	Admitted        int
	DroppedOversize int
	Truncated       int
	TotalCharacters int
}

// ContextPack is the packer's output: an ordered, budget-constrained set of items.
type ContextPack struct {
	Items       []ContextItem
	Stats       ContextPackStats
	KGCommitSHA string
	Warnings    []string
}
