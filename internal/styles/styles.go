package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// ColorScheme defines the color palette for a theme
type ColorScheme struct {
	// Primary colors
	Primary lipgloss.Color
	Accent  lipgloss.Color

	// Status colors
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color

	// Text colors
	Foreground lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
}

// Styles contains the lipgloss styles used to print messages
type Styles struct {
	// Color scheme
	Colors ColorScheme

	// Message styles
	UserMessage lipgloss.Style
	AIMessage   lipgloss.Style

	// Thinking spans
	ThinkHeader lipgloss.Style
	ThinkBody   lipgloss.Style

	// Tool cards
	Card          lipgloss.Style
	CardTitle     lipgloss.Style
	StatusRunning lipgloss.Style
	StatusSuccess lipgloss.Style
	StatusError   lipgloss.Style
	Hint          lipgloss.Style

	// Text styles
	Bold  lipgloss.Style
	Code  lipgloss.Style
	Muted lipgloss.Style

	// Approval dialog styles
	Button       lipgloss.Style
	ButtonActive lipgloss.Style
	Dialog       lipgloss.Style
}

var themes = map[string]ColorScheme{
	"default": {
		Primary:    lipgloss.Color("#007ACC"),
		Accent:     lipgloss.Color("#FF6B6B"),
		Success:    lipgloss.Color("#4CAF50"),
		Warning:    lipgloss.Color("#FF9800"),
		Error:      lipgloss.Color("#F44336"),
		Foreground: lipgloss.Color("#FFFFFF"),
		Muted:      lipgloss.Color("#888888"),
		Border:     lipgloss.Color("#444444"),
	},
	"light": {
		Primary:    lipgloss.Color("#0066CC"),
		Accent:     lipgloss.Color("#D32F2F"),
		Success:    lipgloss.Color("#2E7D32"),
		Warning:    lipgloss.Color("#EF6C00"),
		Error:      lipgloss.Color("#C62828"),
		Foreground: lipgloss.Color("#1A1A1A"),
		Muted:      lipgloss.Color("#666666"),
		Border:     lipgloss.Color("#CCCCCC"),
	},
}

// GetAvailableThemes returns all available theme names
func GetAvailableThemes() []string {
	return []string{"default", "light"}
}

// GetColors returns the palette of the named theme, falling back to default.
func GetColors(name string) ColorScheme {
	if c, ok := themes[name]; ok {
		return c
	}
	return themes["default"]
}

// New builds the styles for a palette.
func New(colors ColorScheme) Styles {
	return Styles{
		Colors: colors,

		// Message styles
		UserMessage: lipgloss.NewStyle().
			Foreground(colors.Accent).
			Bold(true),
		AIMessage: lipgloss.NewStyle().
			Foreground(colors.Foreground),

		// Thinking styles
		ThinkHeader: lipgloss.NewStyle().
			Foreground(colors.Muted).
			Italic(true),
		ThinkBody: lipgloss.NewStyle().
			Foreground(colors.Muted).
			PaddingLeft(2),

		// Tool card styles
		Card: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colors.Border).
			Padding(0, 1),
		CardTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Primary),
		StatusRunning: lipgloss.NewStyle().Foreground(colors.Warning),
		StatusSuccess: lipgloss.NewStyle().Foreground(colors.Success),
		StatusError:   lipgloss.NewStyle().Foreground(colors.Error),
		Hint: lipgloss.NewStyle().
			Foreground(colors.Warning).
			Italic(true),

		// Text styles
		Bold:  lipgloss.NewStyle().Bold(true),
		Code:  lipgloss.NewStyle().Foreground(colors.Primary),
		Muted: lipgloss.NewStyle().Foreground(colors.Muted),

		// Approval dialog styles
		Button: lipgloss.NewStyle().
			Foreground(colors.Foreground).
			Padding(0, 1),
		ButtonActive: lipgloss.NewStyle().
			Foreground(colors.Foreground).
			Background(colors.Primary).
			Bold(true).
			Padding(0, 1),
		Dialog: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colors.Primary).
			Padding(0, 1),
	}
}

// ForTerminal returns the named theme adapted to the color profile of the
// current terminal.
func ForTerminal(name string) Styles {
	return New(AdaptColorsToProfile(GetColors(name), termenv.ColorProfile()))
}

// AdaptColorsToProfile adapts colors to the terminal's capabilities
func AdaptColorsToProfile(colors ColorScheme, profile termenv.Profile) ColorScheme {
	switch profile {
	case termenv.Ascii:
		// No colors
		return ColorScheme{}
	case termenv.ANSI:
		// Basic 16-color palette
		return ColorScheme{
			Primary:    lipgloss.Color("12"),
			Accent:     lipgloss.Color("9"),
			Success:    lipgloss.Color("10"),
			Warning:    lipgloss.Color("11"),
			Error:      lipgloss.Color("1"),
			Foreground: lipgloss.Color("15"),
			Muted:      lipgloss.Color("8"),
			Border:     lipgloss.Color("8"),
		}
	default:
		return colors
	}
}
