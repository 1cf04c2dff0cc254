package publish

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghapi "github.com/google/go-github/v73/github"

	"github.com/sevigo/reviewcore/internal/github"
	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/pipelineerr"
	"github.com/sevigo/reviewcore/internal/storage"
)

type fakeClient struct {
	reviews []struct {
		body     string
		comments []github.DraftReviewComment
	}
	failTimes int
	failWith  error
}

func (f *fakeClient) GetPullRequest(context.Context, string, string, int) (*ghapi.PullRequest, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) ListPullRequestFiles(context.Context, string, string, int) ([]github.PRFile, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) CreateReview(_ context.Context, _, _ string, _ int, body string, comments []github.DraftReviewComment) (int64, error) {
	if f.failTimes > 0 {
		f.failTimes--
		return 0, f.failWith
	}
	f.reviews = append(f.reviews, struct {
		body     string
		comments []github.DraftReviewComment
	}{body, comments})
	return 777, nil
}

func (f *fakeClient) CreateComment(context.Context, string, string, int, string) error {
	return nil
}

type fakeStore struct {
	storage.Store
	findings       []storage.ReviewFinding
	published      bool
	unpublished    bool
	publishedID    int64
	unpublishedErr string
}

func (f *fakeStore) SaveFindings(_ context.Context, _ string, findings []storage.ReviewFinding) error {
	f.findings = append(f.findings, findings...)
	return nil
}

func (f *fakeStore) MarkReviewRunPublished(_ context.Context, _ string, id int64) error {
	f.published = true
	f.publishedID = id
	return nil
}

func (f *fakeStore) MarkReviewRunUnpublished(_ context.Context, _ string, msg string) error {
	f.unpublished = true
	f.unpublishedErr = msg
	return nil
}

func testHunk() model.Hunk {
	return model.Hunk{
		HunkID:   "src/test.py:h1:1:1",
		OldStart: 1, OldCount: 2, NewStart: 1, NewCount: 4,
		Lines: []model.HunkLine{
			{Tag: model.LineContext, Text: "def test():"},
			{Tag: model.LineDeletion, Text: "    return False"},
			{Tag: model.LineAddition, Text: "    # Updated"},
			{Tag: model.LineAddition, Text: "    result = calculate()"},
			{Tag: model.LineAddition, Text: "    return result"},
		},
	}
}

func testMappings(t *testing.T) *model.DiffMappings {
	t.Helper()
	hunk := testHunk()
	patch := &model.PRFilePatch{
		FilePath:   "src/test.py",
		ChangeType: model.ChangeModified,
		Hunks:      []model.Hunk{hunk},
	}
	return &model.DiffMappings{
		AllFilePaths:   map[string]struct{}{"src/test.py": {}},
		AllHunkIDs:     map[string]struct{}{hunk.HunkID: {}},
		AllowedAnchors: map[model.FileHunkKey]struct{}{{FilePath: "src/test.py", HunkID: hunk.HunkID}: {}},
		Patches:        map[string]*model.PRFilePatch{"src/test.py": patch},
	}
}

func testRequest(t *testing.T) *model.PRReviewRequest {
	t.Helper()
	req, err := model.NewPRReviewRequest(1, "11111111-2222-3333-4444-555555555555", 99, "owner", "repo", 42,
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)
	return req
}

func TestAbsoluteLine(t *testing.T) {
	hunk := testHunk()

	tests := []struct {
		name       string
		lineInHunk int
		want       int
	}{
		{"offset zero maps to new_start", 0, 1},
		{"context counted", 1, 2},
		{"deletion skipped", 2, 2}, // line at index 2 follows 1 context + 1 deletion
		{"first addition", 3, 3},
		{"second addition", 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AbsoluteLine(&hunk, tt.lineInHunk))
		})
	}
}

// Walking all lines with the context+addition counting rule must land on
// new_start + new_count - 1 at the last non-deletion line.
func TestAbsoluteLine_ReconstructsNewCount(t *testing.T) {
	hunk := testHunk()
	last := 0
	for i := range hunk.Lines {
		if hunk.Lines[i].Tag != model.LineDeletion {
			last = AbsoluteLine(&hunk, i)
		}
	}
	assert.Equal(t, hunk.NewStart+hunk.NewCount-1, last)
}

func anchoredFinding() model.Finding {
	return model.Finding{
		FindingID:           "finding_1",
		Severity:            model.SeverityHigh,
		Category:            model.CategoryBug,
		Title:               "Possible nil deref",
		Message:             "calculate() may return nil here.",
		SuggestedFix:        "Check the result before returning it.",
		FilePath:            "src/test.py",
		HunkID:              "src/test.py:h1:1:1",
		LineInHunk:          2,
		Anchored:            true,
		AnchoringMethod:     model.AnchorEvidence,
		AnchoringConfidence: 0.9,
	}
}

func testOutput() *model.LLMReviewOutput {
	return &model.LLMReviewOutput{
		Summary:       "One issue found in the calculation path.",
		TotalFindings: 1,
	}
}

func TestPublishAndPersist_Success(t *testing.T) {
	client := &fakeClient{}
	store := &fakeStore{}
	pub := New(client, store, false, slog.New(slog.DiscardHandler))

	res, err := pub.PublishAndPersist(context.Background(), testRequest(t), "run-1", testOutput(),
		[]model.Finding{anchoredFinding()}, nil, testMappings(t))
	require.NoError(t, err)

	assert.True(t, res.Published)
	assert.Equal(t, int64(777), res.GitHubReviewID)
	assert.True(t, store.published)

	require.Len(t, client.reviews, 1)
	comments := client.reviews[0].comments
	require.Len(t, comments, 1)
	assert.Equal(t, "src/test.py", comments[0].Path)
	assert.Equal(t, 2, comments[0].Line) // new_start 1 + 1 context
	assert.Equal(t, "RIGHT", comments[0].Side)

	require.Len(t, store.findings, 1)
	assert.Equal(t, "HIGH", store.findings[0].Severity)
	assert.Equal(t, 2, store.findings[0].LineNumber)
}

func TestPublishAndPersist_DryRun(t *testing.T) {
	client := &fakeClient{}
	store := &fakeStore{}
	pub := New(client, store, true, slog.New(slog.DiscardHandler))

	res, err := pub.PublishAndPersist(context.Background(), testRequest(t), "run-1", testOutput(),
		[]model.Finding{anchoredFinding()}, nil, testMappings(t))
	require.NoError(t, err)

	assert.False(t, res.Published)
	assert.Empty(t, client.reviews, "dry run must not post")
	assert.Len(t, store.findings, 1, "dry run still persists findings")
}

func TestPublishAndPersist_FailureMarksUnpublished(t *testing.T) {
	client := &fakeClient{failTimes: 100, failWith: errors.New("boom: 502")}
	store := &fakeStore{}
	pub := New(client, store, false, slog.New(slog.DiscardHandler))

	_, err := pub.PublishAndPersist(context.Background(), testRequest(t), "run-1", testOutput(),
		[]model.Finding{anchoredFinding()}, nil, testMappings(t))

	require.Error(t, err)
	assert.True(t, pipelineerr.Is(err, pipelineerr.CodePublishFailed))
	assert.True(t, store.unpublished)
	assert.False(t, store.published)
}

func TestPublishAndPersist_UnanchoredInSummaryOnly(t *testing.T) {
	client := &fakeClient{}
	store := &fakeStore{}
	pub := New(client, store, false, slog.New(slog.DiscardHandler))

	unanchored := model.Finding{
		FindingID: "finding_2",
		Severity:  model.SeverityLow,
		Category:  model.CategoryDocs,
		Title:     "Missing docs",
		Message:   "The new function is undocumented.",
		FilePath:  "src/other.py",
	}
	_, err := pub.PublishAndPersist(context.Background(), testRequest(t), "run-1", testOutput(),
		nil, []model.Finding{unanchored}, testMappings(t))
	require.NoError(t, err)

	require.Len(t, client.reviews, 1)
	assert.Empty(t, client.reviews[0].comments)
	assert.Contains(t, client.reviews[0].body, "Missing docs")

	require.Len(t, store.findings, 1)
	assert.Equal(t, 0, store.findings[0].LineNumber)
}
