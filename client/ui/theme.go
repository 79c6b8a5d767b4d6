package ui

import "github.com/gdamore/tcell/v2"

// Colors - Midnight Commander style
var (
	ColorBg        = tcell.NewRGBColor(0, 0, 128)     // Dark blue background
	ColorFg        = tcell.NewRGBColor(192, 192, 192) // Light gray text
	ColorField     = tcell.NewRGBColor(0, 0, 64)      // Input fields
	ColorBar       = tcell.NewRGBColor(0, 128, 128)   // Status bars and buttons
	ColorShade     = tcell.NewRGBColor(64, 64, 64)    // Behind dialogs
	ColorBorder    = tcell.NewRGBColor(0, 255, 255)   // Cyan borders
	ColorTitle     = tcell.NewRGBColor(255, 255, 255) // White titles
	ColorHighlight = tcell.NewRGBColor(0, 255, 255)   // Cyan highlight
	ColorOnline    = tcell.NewRGBColor(0, 255, 0)     // Green for online
	ColorOffline   = tcell.NewRGBColor(128, 128, 128) // Gray for offline
)

// Tag colors used inside dynamic-color text.
const (
	tagOwn     = "[yellow]"
	tagOther   = "[aqua]"
	tagMuted   = "[gray]"
	tagPending = "[gray]"
	tagSent    = "[green]"
	tagFailed  = "[red]"
	tagTyping  = "[lime]"
	tagReset   = "[-]"
	tagUnread  = "[fuchsia]"
)
