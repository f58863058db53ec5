package cmd

import (
	"github.com/charmbracelet/lipgloss/v2"
)

const lanternASCII = `@@@       @@@@@@   @@@  @@@  @@@@@@@  @@@@@@@@  @@@@@@@   @@@  @@@
@@!      @@!  @@@  @@!@!@@@    @@!    @@!       @@!  @@@  @@!@!@@@
@!!      @!@!@!@!  @!@@!!@!    @!!    @!!!:!    @!@!!@!   @!@@!!@!
!!:      !!:  !!!  !!:  !!!    !!:    !!:       !!: :!!   !!:  !!!
: ::.: :  :   : :  ::    :      :     : :: :::   :   : :  ::    : `

// RenderBanner returns the styled banner printed above version information
func RenderBanner() string {
	bannerStyle := lipgloss.NewStyle().
		Foreground(RGBPink).
		Bold(true)

	subtitleStyle := lipgloss.NewStyle().
		Foreground(RGBBlue).
		Italic(true)

	containerStyle := lipgloss.NewStyle().
		Align(lipgloss.Left).
		MarginBottom(1)

	banner := bannerStyle.Render(lanternASCII)
	subtitle := subtitleStyle.Render("page load metrics, simulated")

	return containerStyle.Render(banner + "\n" + subtitle)
}
