package main

import "github.com/charmbracelet/lipgloss"

type styles struct {
	header   lipgloss.Style
	list     lipgloss.Style
	selected lipgloss.Style
	viewport lipgloss.Style
	footer   lipgloss.Style
	errText  lipgloss.Style
	success  lipgloss.Style
	dim      lipgloss.Style
}

type ThemeName string

const (
	ThemeCyan   ThemeName = "cyan"
	ThemeMatrix ThemeName = "matrix"
	ThemeAmber  ThemeName = "amber"
)

type ThemePalette struct {
	Primary  lipgloss.Color
	Success  lipgloss.Color
	Error    lipgloss.Color
	Inactive lipgloss.Color
}

var palettes = map[ThemeName]ThemePalette{
	ThemeCyan:   {Primary: "86", Success: "42", Error: "196", Inactive: "240"},
	ThemeMatrix: {Primary: "46", Success: "40", Error: "160", Inactive: "238"},
	ThemeAmber:  {Primary: "214", Success: "142", Error: "167", Inactive: "243"},
}

// ListThemes returns the selectable theme names.
func ListThemes() []ThemeName {
	return []ThemeName{ThemeCyan, ThemeMatrix, ThemeAmber}
}

func newStyles(theme ThemeName) styles {
	p := palettes[theme]
	return styles{
		header:   lipgloss.NewStyle().Foreground(p.Primary).Bold(true).Padding(0, 1),
		list:     lipgloss.NewStyle().Padding(0, 1),
		selected: lipgloss.NewStyle().Foreground(p.Primary).Bold(true),
		viewport: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(p.Inactive).Padding(0, 1),
		footer:   lipgloss.NewStyle().Foreground(p.Inactive).Padding(0, 1),
		errText:  lipgloss.NewStyle().Foreground(p.Error),
		success:  lipgloss.NewStyle().Foreground(p.Success),
		dim:      lipgloss.NewStyle().Foreground(p.Inactive),
	}
}
