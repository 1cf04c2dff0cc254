package kg

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/observability"
)

// RetrieverLimits bounds every fan-out step of the candidate retriever, per
// configuration.
type RetrieverLimits struct {
	MaxSymbolMatchesPerSeed   int
	MaxCallersPerSeed         int
	MaxCalleesPerSeed         int
	MaxContainsPerSeed        int
	MaxImportFilesPerSeedFile int
	MaxKGDocsTotal            int
	MaxParallelKGCalls        int
}

// docPathPrefixes is the fixed list of documentation path prefixes.
var docPathPrefixes = []string{"README", "docs/", "doc/", "documentation/"}

// Retriever turns a seed set into a deduplicated KGCandidateResult.
type Retriever struct {
	queries QueryService
	limits  RetrieverLimits
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewRetriever constructs a Retriever bound to a QueryService. metrics may
// be nil; cap hits are then not counted.
func NewRetriever(queries QueryService, limits RetrieverLimits, metrics *observability.Metrics, logger *slog.Logger) *Retriever {
	if limits.MaxParallelKGCalls <= 0 {
		limits.MaxParallelKGCalls = 8
	}
	return &Retriever{queries: queries, limits: limits, metrics: metrics, logger: logger}
}

// capped counts a result set that filled its configured cap; the LIMIT
// clause already truncated it server-side, so a full set means overflow was
// possible.
func (r *Retriever) capped(rows, limit int, capName string) {
	if limit > 0 && rows >= limit {
		r.metrics.CapHit(capName)
	}
}

// dedup is a mutex-guarded seen-node-ids set; merge order never affects the
// final flat list since admission is gated solely by node-id membership.
type dedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newDedup() *dedup { return &dedup{seen: map[string]struct{}{}} }

// admit returns true the first time nodeID is seen.
func (d *dedup) admit(nodeID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[nodeID]; ok {
		return false
	}
	d.seen[nodeID] = struct{}{}
	return true
}

// Retrieve turns a seed set into candidates. On any query failure it
// degrades gracefully: it returns whatever was gathered before the failure
// plus a warning tagged by error class, and never propagates the error.
func (r *Retriever) Retrieve(ctx context.Context, repoID string, s0 model.SeedSetS0) *model.KGCandidateResult {
	result := &model.KGCandidateResult{}
	dd := newDedup()

	sha, found, err := r.queries.GetRepoCommitSHA(ctx, repoID)
	if err != nil || !found {
		result.Warnings = append(result.Warnings, "kg_commit_sha_not_found")
	} else {
		result.KGCommitSHA = sha
	}

	filePaths := unionFilePaths(s0)

	sem := make(chan struct{}, r.limits.MaxParallelKGCalls)
	var mu sync.Mutex
	var wg sync.WaitGroup

	appendClass := func(class *[]model.KGCandidate, c model.KGCandidate) {
		if !dd.admit(c.NodeID) {
			return
		}
		mu.Lock()
		*class = append(*class, c)
		result.Candidates = append(result.Candidates, c)
		mu.Unlock()
	}

	warn := func(tag string) {
		mu.Lock()
		result.Warnings = append(result.Warnings, tag)
		mu.Unlock()
	}

	// Step 3: per-seed-symbol find_symbol + fixed-order neighbor expansion.
	for _, sym := range s0.Symbols {
		sym := sym
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.expandSeedSymbol(ctx, repoID, sym, dd, &result.SymbolMatches, &result.Neighbors, appendClass, warn)
		}()
	}
	wg.Wait()

	// Step 4: per-file import neighborhood, outgoing first at full cap,
	// incoming at half cap.
	for _, fp := range filePaths {
		fp := fp
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.expandFileImports(ctx, repoID, fp, dd, &result.ImportNeighbors, appendClass, warn)
		}()
	}
	wg.Wait()

	// Step 5: docs by fixed path-prefix list, dividing the global cap
	// evenly and stopping early at cap.
	r.collectDocs(ctx, repoID, dd, &result.Docs, appendClass, warn)

	return result
}

func (r *Retriever) expandSeedSymbol(ctx context.Context, repoID string, sym model.SeedSymbol, dd *dedup,
	symbolMatches, neighbors *[]model.KGCandidate, appendClass func(*[]model.KGCandidate, model.KGCandidate), warn func(string)) {

	matches, err := withRetry(func() ([]SymbolRow, error) {
		return r.queries.FindSymbol(ctx, repoID, sym.FilePath, sym.QualifiedName, sym.Name, string(sym.Kind), sym.Fingerprint, r.limits.MaxSymbolMatchesPerSeed)
	})
	if err != nil {
		warn("kg_find_symbol_failed")
		return
	}
	r.capped(len(matches), r.limits.MaxSymbolMatchesPerSeed, "symbol_matches_per_seed")

	for _, row := range matches {
		appendClass(symbolMatches, model.KGCandidate{
			CandidateType: model.CandidateSymbolMatch,
			NodeID:        row.NodeID, RepoID: row.RepoID, RelativePath: row.RelativePath,
			CommitSHA: row.CommitSHA, Name: row.Name, StartLine: row.StartLine, EndLine: row.EndLine,
		})

		callers, err := withRetry(func() ([]SymbolRow, error) {
			return r.queries.ExpandSymbolNeighbors(ctx, repoID, row.NodeID, []RelType{RelCalls}, DirectionIncoming, r.limits.MaxCallersPerSeed)
		})
		if err != nil {
			warn("kg_expand_callers_failed")
		}
		r.capped(len(callers), r.limits.MaxCallersPerSeed, "callers_per_seed")
		for _, n := range callers {
			appendClass(neighbors, neighborCandidate(n, model.RelCaller, row.NodeID))
		}

		callees, err := withRetry(func() ([]SymbolRow, error) {
			return r.queries.ExpandSymbolNeighbors(ctx, repoID, row.NodeID, []RelType{RelCalls}, DirectionOutgoing, r.limits.MaxCalleesPerSeed)
		})
		if err != nil {
			warn("kg_expand_callees_failed")
		}
		r.capped(len(callees), r.limits.MaxCalleesPerSeed, "callees_per_seed")
		for _, n := range callees {
			appendClass(neighbors, neighborCandidate(n, model.RelCallee, row.NodeID))
		}

		contains, err := withRetry(func() ([]SymbolRow, error) {
			return r.queries.ExpandSymbolNeighbors(ctx, repoID, row.NodeID, []RelType{RelContainsSym}, DirectionOutgoing, r.limits.MaxContainsPerSeed)
		})
		if err != nil {
			warn("kg_expand_contains_failed")
		}
		r.capped(len(contains), r.limits.MaxContainsPerSeed, "contains_per_seed")
		for _, n := range contains {
			appendClass(neighbors, neighborCandidate(n, model.RelContains, row.NodeID))
		}
	}
}

func neighborCandidate(row SymbolRow, rel model.Relationship, sourceSymbolID string) model.KGCandidate {
	return model.KGCandidate{
		CandidateType:  model.CandidateNeighbor,
		NodeID:         row.NodeID,
		RepoID:         row.RepoID,
		RelativePath:   row.RelativePath,
		CommitSHA:      row.CommitSHA,
		Name:           row.Name,
		StartLine:      row.StartLine,
		EndLine:        row.EndLine,
		Relationship:   rel,
		SourceSymbolID: sourceSymbolID,
	}
}

func (r *Retriever) expandFileImports(ctx context.Context, repoID, filePath string, dd *dedup,
	bucket *[]model.KGCandidate, appendClass func(*[]model.KGCandidate, model.KGCandidate), warn func(string)) {

	outgoing, err := withRetry(func() ([]FileRow, error) {
		return r.queries.GetImportNeighborhood(ctx, repoID, filePath, DirectionOutgoing, r.limits.MaxImportFilesPerSeedFile)
	})
	if err != nil {
		warn("kg_import_outgoing_failed")
	}
	r.capped(len(outgoing), r.limits.MaxImportFilesPerSeedFile, "import_files_per_seed_file")
	for _, f := range outgoing {
		appendClass(bucket, importCandidate(f, model.RelImports))
	}

	halfCap := r.limits.MaxImportFilesPerSeedFile / 2
	incoming, err := withRetry(func() ([]FileRow, error) {
		return r.queries.GetImportNeighborhood(ctx, repoID, filePath, DirectionIncoming, halfCap)
	})
	if err != nil {
		warn("kg_import_incoming_failed")
	}
	r.capped(len(incoming), halfCap, "import_files_per_seed_file")
	for _, f := range incoming {
		appendClass(bucket, importCandidate(f, model.RelImportedBy))
	}
}

func importCandidate(row FileRow, rel model.Relationship) model.KGCandidate {
	return model.KGCandidate{
		CandidateType: model.CandidateImport,
		NodeID:        row.NodeID, RepoID: row.RepoID, RelativePath: row.RelativePath,
		CommitSHA: row.CommitSHA, Relationship: rel,
	}
}

func (r *Retriever) collectDocs(ctx context.Context, repoID string, dd *dedup,
	bucket *[]model.KGCandidate, appendClass func(*[]model.KGCandidate, model.KGCandidate), warn func(string)) {

	if r.limits.MaxKGDocsTotal <= 0 || len(docPathPrefixes) == 0 {
		return
	}
	perPrefix := r.limits.MaxKGDocsTotal / len(docPathPrefixes)
	if perPrefix == 0 {
		perPrefix = 1
	}

	collected := 0
	for _, prefix := range docPathPrefixes {
		if collected >= r.limits.MaxKGDocsTotal {
			break
		}
		remaining := r.limits.MaxKGDocsTotal - collected
		limit := perPrefix
		if limit > remaining {
			limit = remaining
		}
		docs, err := withRetry(func() ([]DocRow, error) {
			return r.queries.GetTextNodes(ctx, repoID, prefix, limit)
		})
		if err != nil {
			warn("kg_get_text_nodes_failed")
			continue
		}
		for _, d := range docs {
			appendClass(bucket, model.KGCandidate{
				CandidateType: model.CandidateDoc,
				NodeID:        d.NodeID, RepoID: d.RepoID, RelativePath: d.RelativePath,
				CommitSHA: d.CommitSHA, Text: d.Text, StartLine: d.StartLine, EndLine: d.EndLine,
			})
			collected++
		}
	}
	r.capped(collected, r.limits.MaxKGDocsTotal, "kg_docs_total")
}

func unionFilePaths(s0 model.SeedSetS0) []string {
	set := map[string]struct{}{}
	for _, f := range s0.Files {
		set[f.FilePath] = struct{}{}
	}
	for _, s := range s0.Symbols {
		set[s.FilePath] = struct{}{}
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	return paths
}

// withRetry wraps a single KG call with bounded exponential backoff and
// jitter.
func withRetry[T any](call func() (T, error)) (T, error) {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	var result T
	err := backoff.Retry(func() error {
		var callErr error
		result, callErr = call()
		return callErr
	}, b)
	return result, err
}
