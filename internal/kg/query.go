// Package kg implements the read-only knowledge-graph query service and the
// bounded candidate retriever built on top of it. All queries run as
// parameterized Cypher over a bolt connection; relationship-type sets are
// bound as array parameters so the server can cache query plans.
//
// Wildcard imports are recorded in the graph at file level only; symbol-level
// resolution of wildcard-imported names is out of scope for this service.
package kg

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/sevigo/reviewcore/internal/kg/cypher"
	"github.com/sevigo/reviewcore/internal/observability"
)

// Direction is a validated traversal direction — never string-spliced into
// a query.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// RelType is a validated relationship type for neighbor expansion.
type RelType string

const (
	RelCalls       RelType = "CALLS"
	RelContainsSym RelType = "CONTAINS_SYMBOL"
)

// SymbolRow is one row returned by find_symbol / expand_symbol_neighbors.
type SymbolRow struct {
	NodeID       string
	RepoID       string
	RelativePath string
	CommitSHA    string
	Name         string
	Kind         string
	RelType      RelType
	StartLine    int
	EndLine      int
}

// FileRow is one row returned by get_import_neighborhood.
type FileRow struct {
	NodeID       string
	RepoID       string
	RelativePath string
	CommitSHA    string
}

// DocRow is one row returned by get_text_nodes.
type DocRow struct {
	NodeID       string
	RepoID       string
	RelativePath string
	CommitSHA    string
	Text         string
	StartLine    int
	EndLine      int
}

// SymbolMatchRequest is one element of a batched find_symbol call.
type SymbolMatchRequest struct {
	Index         int
	RepoID        string
	FilePath      string
	QualifiedName string
	Name          string
	Kind          string
	Fingerprint   string
}

// QueryService is the read-only, parameterized Cypher surface the retriever is built on.
// Every method scopes by repo_id and applies its own row limit. No method
// ever builds a query by string interpolation of caller-supplied values —
// only bound parameters, so the driver can cache query plans.
type QueryService interface {
	FindSymbol(ctx context.Context, repoID, filePath, qualifiedName, name, kind, fingerprint string, limit int) ([]SymbolRow, error)
	FindSymbolBatch(ctx context.Context, reqs []SymbolMatchRequest, limitPerSeed int) (map[int][]SymbolRow, error)
	ExpandSymbolNeighbors(ctx context.Context, repoID, nodeID string, relTypes []RelType, direction Direction, limit int) ([]SymbolRow, error)
	GetImportNeighborhood(ctx context.Context, repoID, filePath string, direction Direction, limit int) ([]FileRow, error)
	GetTextNodes(ctx context.Context, repoID, pathPrefix string, limit int) ([]DocRow, error)
	GetRepoCommitSHA(ctx context.Context, repoID string) (string, bool, error)
}

// neo4jQueryService implements QueryService over a bolt session.
type neo4jQueryService struct {
	driver       neo4j.DriverWithContext
	database     string
	queryTimeout time.Duration
	metrics      *observability.Metrics
}

// NewQueryService constructs a QueryService bound to the given driver.
// queryTimeout bounds every single query; zero disables the bound. metrics
// may be nil.
func NewQueryService(driver neo4j.DriverWithContext, database string, queryTimeout time.Duration, metrics *observability.Metrics) QueryService {
	return &neo4jQueryService{driver: driver, database: database, queryTimeout: queryTimeout, metrics: metrics}
}

// queryCtx applies the per-query timeout.
func (s *neo4jQueryService) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

func (s *neo4jQueryService) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
}

// run executes one cypher.Query on the session, recording its latency under
// the query's name.
func (s *neo4jQueryService) run(ctx context.Context, session neo4j.SessionWithContext, q cypher.Query) (neo4j.ResultWithContext, error) {
	start := time.Now()
	result, err := session.Run(ctx, q.Text, q.Params)
	s.metrics.ObserveKGQuery(q.Name, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", q.Name, err)
	}
	return result, nil
}

func (s *neo4jQueryService) FindSymbol(ctx context.Context, repoID, filePath, qualifiedName, name, kind, fingerprint string, limit int) ([]SymbolRow, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	session := s.session(ctx)
	defer session.Close(ctx)

	q := cypher.Query{
		Name: "find_symbol",
		Text: `
MATCH (n:KGNode:SymbolNode {repo_id: $repo_id, relative_path: $file_path})
WHERE ($fingerprint <> '' AND n.fingerprint = $fingerprint)
   OR ($qualified_name <> '' AND n.qualified_name = $qualified_name)
   OR ($name <> '' AND n.name = $name)
WITH n WHERE $kind = '' OR n.kind = $kind
RETURN n.node_id AS node_id, n.repo_id AS repo_id, n.relative_path AS relative_path,
       n.commit_sha AS commit_sha, n.name AS name, n.kind AS kind,
       n.start_line AS start_line, n.end_line AS end_line
LIMIT $limit`,
		Params: map[string]any{
			"repo_id": repoID, "file_path": filePath, "qualified_name": qualifiedName,
			"name": name, "kind": kind, "fingerprint": fingerprint, "limit": limit,
		},
	}
	result, err := s.run(ctx, session, q)
	if err != nil {
		return nil, err
	}
	return collectSymbolRows(ctx, result)
}

// FindSymbolBatch accepts N find_symbol requests bound via a single UNWIND
// pattern, returning rows tagged by request index — avoiding an N+1 round
// trip when the seed set is large.
func (s *neo4jQueryService) FindSymbolBatch(ctx context.Context, reqs []SymbolMatchRequest, limitPerSeed int) (map[int][]SymbolRow, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	session := s.session(ctx)
	defer session.Close(ctx)

	batch := make([]map[string]any, len(reqs))
	for i, r := range reqs {
		batch[i] = map[string]any{
			"idx": r.Index, "repo_id": r.RepoID, "file_path": r.FilePath,
			"qualified_name": r.QualifiedName, "name": r.Name, "kind": r.Kind, "fingerprint": r.Fingerprint,
		}
	}
	q := cypher.Query{
		Name: "find_symbol_batch",
		Text: `
UNWIND $batch AS req
MATCH (n:KGNode:SymbolNode {repo_id: req.repo_id, relative_path: req.file_path})
WHERE (req.fingerprint <> '' AND n.fingerprint = req.fingerprint)
   OR (req.qualified_name <> '' AND n.qualified_name = req.qualified_name)
   OR (req.name <> '' AND n.name = req.name)
WITH req, n WHERE req.kind = '' OR n.kind = req.kind
RETURN req.idx AS idx, n.node_id AS node_id, n.repo_id AS repo_id,
       n.relative_path AS relative_path, n.commit_sha AS commit_sha,
       n.name AS name, n.kind AS kind, n.start_line AS start_line, n.end_line AS end_line
LIMIT $limit`,
		Params: map[string]any{"batch": batch, "limit": limitPerSeed * len(reqs)},
	}
	result, err := s.run(ctx, session, q)
	if err != nil {
		return nil, err
	}

	out := map[int][]SymbolRow{}
	for result.Next(ctx) {
		rec := result.Record()
		idx, _ := rec.Get("idx")
		row := recordToSymbolRow(rec)
		i, _ := idx.(int64)
		rows := out[int(i)]
		if len(rows) >= limitPerSeed {
			continue
		}
		out[int(i)] = append(rows, row)
	}
	return out, result.Err()
}

func (s *neo4jQueryService) ExpandSymbolNeighbors(ctx context.Context, repoID, nodeID string, relTypes []RelType, direction Direction, limit int) ([]SymbolRow, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	session := s.session(ctx)
	defer session.Close(ctx)

	types := make([]string, len(relTypes))
	for i, t := range relTypes {
		types[i] = string(t)
	}

	var text string
	switch direction {
	case DirectionIncoming:
		text = `
MATCH (src:KGNode {repo_id: $repo_id, node_id: $node_id})<-[r]-(n:KGNode:SymbolNode)
WHERE type(r) IN $rel_types
RETURN n.node_id AS node_id, n.repo_id AS repo_id, n.relative_path AS relative_path,
       n.commit_sha AS commit_sha, n.name AS name, n.kind AS kind,
       n.start_line AS start_line, n.end_line AS end_line, type(r) AS rel_type
LIMIT $limit`
	default:
		text = `
MATCH (src:KGNode {repo_id: $repo_id, node_id: $node_id})-[r]->(n:KGNode:SymbolNode)
WHERE type(r) IN $rel_types
RETURN n.node_id AS node_id, n.repo_id AS repo_id, n.relative_path AS relative_path,
       n.commit_sha AS commit_sha, n.name AS name, n.kind AS kind,
       n.start_line AS start_line, n.end_line AS end_line, type(r) AS rel_type
LIMIT $limit`
	}

	q := cypher.Query{
		Name: "expand_symbol_neighbors",
		Text: text,
		Params: map[string]any{
			"repo_id": repoID, "node_id": nodeID, "rel_types": types, "limit": limit,
		},
	}
	result, err := s.run(ctx, session, q)
	if err != nil {
		return nil, err
	}

	var rows []SymbolRow
	for result.Next(ctx) {
		rec := result.Record()
		row := recordToSymbolRow(rec)
		if rt, ok := rec.Get("rel_type"); ok {
			if s, ok := rt.(string); ok {
				row.RelType = RelType(s)
			}
		}
		rows = append(rows, row)
	}
	return rows, result.Err()
}

func (s *neo4jQueryService) GetImportNeighborhood(ctx context.Context, repoID, filePath string, direction Direction, limit int) ([]FileRow, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	session := s.session(ctx)
	defer session.Close(ctx)

	var text string
	switch direction {
	case DirectionIncoming:
		text = `
MATCH (src:KGNode:FileNode {repo_id: $repo_id, relative_path: $file_path})<-[:IMPORTS]-(n:KGNode:FileNode)
RETURN n.node_id AS node_id, n.repo_id AS repo_id, n.relative_path AS relative_path, n.commit_sha AS commit_sha
LIMIT $limit`
	default:
		text = `
MATCH (src:KGNode:FileNode {repo_id: $repo_id, relative_path: $file_path})-[:IMPORTS]->(n:KGNode:FileNode)
RETURN n.node_id AS node_id, n.repo_id AS repo_id, n.relative_path AS relative_path, n.commit_sha AS commit_sha
LIMIT $limit`
	}

	q := cypher.Query{
		Name:   "get_import_neighborhood",
		Text:   text,
		Params: map[string]any{"repo_id": repoID, "file_path": filePath, "limit": limit},
	}
	result, err := s.run(ctx, session, q)
	if err != nil {
		return nil, err
	}
	var rows []FileRow
	for result.Next(ctx) {
		rec := result.Record()
		rows = append(rows, FileRow{
			NodeID:       getString(rec, "node_id"),
			RepoID:       getString(rec, "repo_id"),
			RelativePath: getString(rec, "relative_path"),
			CommitSHA:    getString(rec, "commit_sha"),
		})
	}
	return rows, result.Err()
}

func (s *neo4jQueryService) GetTextNodes(ctx context.Context, repoID, pathPrefix string, limit int) ([]DocRow, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	session := s.session(ctx)
	defer session.Close(ctx)

	q := cypher.Query{
		Name: "get_text_nodes",
		Text: `
MATCH (n:KGNode:TextNode {repo_id: $repo_id})
WHERE n.relative_path STARTS WITH $path_prefix
RETURN n.node_id AS node_id, n.repo_id AS repo_id, n.relative_path AS relative_path,
       n.commit_sha AS commit_sha, n.text AS text, n.start_line AS start_line, n.end_line AS end_line
LIMIT $limit`,
		Params: map[string]any{"repo_id": repoID, "path_prefix": pathPrefix, "limit": limit},
	}
	result, err := s.run(ctx, session, q)
	if err != nil {
		return nil, err
	}
	var rows []DocRow
	for result.Next(ctx) {
		rec := result.Record()
		rows = append(rows, DocRow{
			NodeID:       getString(rec, "node_id"),
			RepoID:       getString(rec, "repo_id"),
			RelativePath: getString(rec, "relative_path"),
			CommitSHA:    getString(rec, "commit_sha"),
			Text:         getString(rec, "text"),
			StartLine:    getInt(rec, "start_line"),
			EndLine:      getInt(rec, "end_line"),
		})
	}
	return rows, result.Err()
}

func (s *neo4jQueryService) GetRepoCommitSHA(ctx context.Context, repoID string) (string, bool, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	session := s.session(ctx)
	defer session.Close(ctx)

	q := cypher.Query{
		Name: "get_repo_commit_sha",
		Text: `
MATCH (n:KGNode {repo_id: $repo_id})
RETURN n.commit_sha AS commit_sha
LIMIT 1`,
		Params: map[string]any{"repo_id": repoID},
	}
	result, err := s.run(ctx, session, q)
	if err != nil {
		return "", false, err
	}
	if !result.Next(ctx) {
		return "", false, result.Err()
	}
	sha := getString(result.Record(), "commit_sha")
	return sha, sha != "", result.Err()
}

func collectSymbolRows(ctx context.Context, result neo4j.ResultWithContext) ([]SymbolRow, error) {
	var rows []SymbolRow
	for result.Next(ctx) {
		rows = append(rows, recordToSymbolRow(result.Record()))
	}
	return rows, result.Err()
}

func recordToSymbolRow(rec *neo4j.Record) SymbolRow {
	return SymbolRow{
		NodeID:       getString(rec, "node_id"),
		RepoID:       getString(rec, "repo_id"),
		RelativePath: getString(rec, "relative_path"),
		CommitSHA:    getString(rec, "commit_sha"),
		Name:         getString(rec, "name"),
		Kind:         getString(rec, "kind"),
		StartLine:    getInt(rec, "start_line"),
		EndLine:      getInt(rec, "end_line"),
	}
}

func getString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func getInt(rec *neo4j.Record, key string) int {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}
