package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/sevigo/reviewcore/internal/app"
	"github.com/sevigo/reviewcore/internal/storage"
	"github.com/sevigo/reviewcore/internal/wire"
)

const runListLimit = 50

func initializeAppCmd() tea.Cmd {
	return func() tea.Msg {
		application, cleanup, err := wire.InitializeApp(context.Background())
		if err != nil {
			return appInitializedMsg{err: err}
		}
		return appInitializedMsg{app: application, cleanup: cleanup}
	}
}

func loadRunsCmd(application *app.App) tea.Cmd {
	return func() tea.Msg {
		runs, err := application.Store.ListRecentRuns(context.Background(), runListLimit)
		return runsLoadedMsg{runs: runs, err: err}
	}
}

func loadRunDetailCmd(application *app.App, run *storage.ReviewRun, width int) tea.Cmd {
	return func() tea.Msg {
		findings, err := application.Store.GetFindingsForRun(context.Background(), run.ID)
		if err != nil {
			return runDetailMsg{runID: run.ID, err: err}
		}

		md := renderRunMarkdown(run, findings)
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return runDetailMsg{runID: run.ID, rendered: md}
		}
		rendered, err := renderer.Render(md)
		if err != nil {
			rendered = md
		}
		return runDetailMsg{runID: run.ID, rendered: rendered}
	}
}

func renderRunMarkdown(run *storage.ReviewRun, findings []*storage.ReviewFinding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s #%d\n\n", run.RepoFullName, run.PRNumber)
	fmt.Fprintf(&sb, "run `%s` · model `%s` · status **%s** · published %t\n\n", run.ID[:8], run.LLMModel, run.Status, run.Published)
	if run.Summary != "" {
		sb.WriteString(run.Summary)
		sb.WriteString("\n\n")
	}
	if run.ErrorMessage.Valid && run.ErrorMessage.String != "" {
		fmt.Fprintf(&sb, "> error: %s\n\n", run.ErrorMessage.String)
	}
	if len(findings) == 0 {
		sb.WriteString("_No findings recorded for this run._\n")
		return sb.String()
	}
	sb.WriteString("## Findings\n\n")
	for _, f := range findings {
		fmt.Fprintf(&sb, "- **%s** [%s] `%s:%d` — %s\n", f.Severity, f.FindingType, f.FilePath, f.LineNumber, f.Message)
	}
	return sb.String()
}
