package main

import (
	"github.com/sevigo/reviewcore/internal/app"
	"github.com/sevigo/reviewcore/internal/storage"
)

// appInitializedMsg reports that the core application services are up.
type appInitializedMsg struct {
	app     *app.App
	cleanup func()
	err     error
}

// runsLoadedMsg carries the recent review runs.
type runsLoadedMsg struct {
	runs []*storage.ReviewRun
	err  error
}

// runDetailMsg carries one run's findings rendered as markdown.
type runDetailMsg struct {
	runID    string
	rendered string
	err      error
}
