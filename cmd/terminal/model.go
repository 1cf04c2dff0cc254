package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sevigo/reviewcore/internal/app"
	"github.com/sevigo/reviewcore/internal/storage"
)

const listWidth = 44

type uiModel struct {
	styles  styles
	spin    spinner.Model
	vp      viewport.Model
	ready   bool
	loading bool

	application *app.App
	cleanup     func()

	runs     []*storage.ReviewRun
	cursor   int
	detailID string

	width  int
	height int
	err    error
}

func initialModel(theme ThemeName) uiModel {
	st := newStyles(theme)
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return uiModel{
		styles:  st,
		spin:    sp,
		loading: true,
	}
}

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, initializeAppCmd())
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cleanup != nil {
				m.cleanup()
			}
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				return m, m.selectCurrent()
			}
		case "down", "j":
			if m.cursor < len(m.runs)-1 {
				m.cursor++
				return m, m.selectCurrent()
			}
		case "r":
			if m.application != nil {
				m.loading = true
				return m, tea.Batch(m.spin.Tick, loadRunsCmd(m.application))
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.vp = viewport.New(msg.Width-listWidth-4, msg.Height-4)
		m.ready = true

	case appInitializedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.loading = false
			return m, nil
		}
		m.application = msg.app
		m.cleanup = msg.cleanup
		return m, loadRunsCmd(m.application)

	case runsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.runs = msg.runs
		if m.cursor >= len(m.runs) {
			m.cursor = 0
		}
		return m, m.selectCurrent()

	case runDetailMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.detailID = msg.runID
		m.vp.SetContent(msg.rendered)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		if m.loading {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m uiModel) selectCurrent() tea.Cmd {
	if m.application == nil || len(m.runs) == 0 {
		return nil
	}
	width := m.width - listWidth - 6
	if width < 20 {
		width = 80
	}
	return loadRunDetailCmd(m.application, m.runs[m.cursor], width)
}

func (m uiModel) View() string {
	if !m.ready {
		return m.spin.View() + " starting..."
	}
	if m.err != nil {
		return m.styles.errText.Render(fmt.Sprintf("error: %v\n\npress q to quit", m.err))
	}
	if m.loading {
		return m.spin.View() + " loading review runs..."
	}

	header := m.styles.header.Render("reviewcore — recent review runs")

	list := m.renderRunList()
	detail := m.styles.viewport.Render(m.vp.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, list, detail)

	footer := m.styles.footer.Render("↑/↓ select · r refresh · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m uiModel) renderRunList() string {
	var rows string
	for i, run := range m.runs {
		line := fmt.Sprintf("%s #%d %s", run.RepoFullName, run.PRNumber, run.StartedAt.Format(time.DateOnly))
		status := m.styles.dim.Render(run.Status)
		if run.Published {
			status = m.styles.success.Render("published")
		}
		entry := fmt.Sprintf("%s %s", line, status)
		if i == m.cursor {
			entry = m.styles.selected.Render("> " + entry)
		} else {
			entry = "  " + entry
		}
		rows += entry + "\n"
	}
	if rows == "" {
		rows = m.styles.dim.Render("no review runs yet")
	}
	return m.styles.list.Width(listWidth).Render(rows)
}
