package publish

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sevigo/reviewcore/internal/github"
	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/mocks"
)

// Same success path as TestPublishAndPersist_Success, but asserting the
// exact CreateReview call shape through a generated mock.
func TestPublishAndPersist_SubmitsExpectedReview(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	store := &fakeStore{}

	client.EXPECT().
		CreateReview(gomock.Any(), "owner", "repo", 42, gomock.Any(), gomock.Len(1)).
		DoAndReturn(func(_ context.Context, _, _ string, _ int, body string, comments []github.DraftReviewComment) (int64, error) {
			assert.Contains(t, body, "Review summary")
			assert.Equal(t, "src/test.py", comments[0].Path)
			assert.Equal(t, "RIGHT", comments[0].Side)
			return 901, nil
		})

	pub := New(client, store, false, slog.New(slog.DiscardHandler))
	res, err := pub.PublishAndPersist(context.Background(), testRequest(t), "run-9", testOutput(),
		[]model.Finding{anchoredFinding()}, nil, testMappings(t))
	require.NoError(t, err)
	assert.Equal(t, int64(901), res.GitHubReviewID)
	assert.Equal(t, int64(901), store.publishedID)
}
