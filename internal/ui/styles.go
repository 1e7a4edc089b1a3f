package ui

import "github.com/charmbracelet/lipgloss"

var (
	purple  = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	cyan    = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}
	emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
	rose    = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}
	amber   = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	muted   = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
	overlay = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}

	titleStyle    = lipgloss.NewStyle().Foreground(purple).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(muted)
	errorStyle    = lipgloss.NewStyle().Foreground(rose).Bold(true)
	noticeStyle   = lipgloss.NewStyle().Foreground(amber)
	onlineStyle   = lipgloss.NewStyle().Foreground(emerald)
	offlineStyle  = lipgloss.NewStyle().Foreground(muted)
	selectedStyle = lipgloss.NewStyle().Foreground(purple).Bold(true)
	selfStyle     = lipgloss.NewStyle().Foreground(cyan).Bold(true)
	peerStyle     = lipgloss.NewStyle().Foreground(emerald).Bold(true)
	aiStyle       = lipgloss.NewStyle().Foreground(purple).Bold(true)

	bannerStyle = lipgloss.NewStyle().
			Foreground(amber).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(amber).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple).
			Padding(1, 2)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(overlay).
			PaddingRight(1)
)
