package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"
)

// terminal palette
var (
	RGBBlue   = lipgloss.Color("45")
	RGBPink   = lipgloss.Color("201")
	RGBRed    = lipgloss.Color("196")
	RGBYellow = lipgloss.Color("220")
	RGBGreen  = lipgloss.Color("46")
	RGBGrey   = lipgloss.Color("246")
)

var (
	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(RGBPink)

	SubtitleStyle = lipgloss.NewStyle().
		Foreground(RGBGrey)

	HeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(RGBBlue)

	ValueStyle = lipgloss.NewStyle().
		Foreground(RGBGreen)

	WarningStyle = lipgloss.NewStyle().
		Foreground(RGBYellow)

	ErrorStyle = lipgloss.NewStyle().
		Foreground(RGBRed).
		Bold(true)

	FaintStyle = lipgloss.NewStyle().Faint(true)
)

// column pads s to width before styling, so styled cells still line up
func column(style lipgloss.Style, s string, width int) string {
	if pad := width - len(s); pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return style.Render(s)
}

// ms formats a duration in milliseconds the way every summary prints it
func ms(v float64) string {
	return fmt.Sprintf("%.1f ms", v)
}

// shorten keeps the tail of long urls, which is the part that differs
func shorten(s string, width int) string {
	if len(s) <= width || width < 4 {
		return s
	}
	return "..." + s[len(s)-width+3:]
}
