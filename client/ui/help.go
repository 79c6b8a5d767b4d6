package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const helpText = `
 [yellow]Users Screen[-]
 ───────────────────────────────────────────────────────────────
   [white]F1[-]       Show this help
   [white]F2[-]       Edit your profile
   [white]F3[-]       Find a user by name
   [white]F5[-]       Refresh users and unread count
   [white]F6[-]       Connect / Disconnect
   [white]F9[-]       Sign out
   [white]F10/Esc[-]  Quit application
   [white]Enter[-]    Open chat with user
   [white]↑ ↓[-]      Navigate users

 [yellow]Chat Screen[-]
 ───────────────────────────────────────────────────────────────
   [white]Enter[-]    Send message (or save the edit)
   [white]Tab[-]      Select messages
   [white]F5[-]       Load older messages
   [white]PgUp/Dn[-]  Scroll page
   [white]Esc[-]      Cancel edit, or back to users

 [yellow]Message Selection (after pressing Tab)[-]
 ───────────────────────────────────────────────────────────────
   [white]↑ ↓[-]      Select message (↑ at the top loads older)
   [white]Home/End[-] First / last message
   [white]e[-]        Edit your message
   [white]d[-]        Delete your message
   [white]r[-]        Retry a failed message
   [white]Tab/Esc[-]  Return to input

 [yellow]Status Icons[-]
 ───────────────────────────────────────────────────────────────
   [green]●[-] online   User is connected
   [gray]○[-] offline  User is disconnected
   [gray]○[-]          Message sending
   [green]✓[-]          Message delivered
   [green]✓✓[-]         Message read
   [red]✗[-]          Message failed to send
`

func (a *App) showHelp() {
	helpView := tview.NewTextView()
	helpView.SetText(helpText)
	helpView.SetTextColor(ColorFg)
	helpView.SetDynamicColors(true)
	helpView.SetScrollable(true)
	styledBorder(helpView.Box, " Help ")

	statusBar := newStatusBar()
	statusBar.SetText(" ↑↓/PgUp/PgDn: Scroll | Esc/Enter/F1: Close ")

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(helpView, 0, 1, true).
		AddItem(statusBar, 1, 0, false)
	flex.SetBackgroundColor(ColorBg)

	flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyEnter, tcell.KeyF1:
			a.pages.RemovePage("help")
			if a.usersList != nil {
				a.app.SetFocus(a.usersList)
			}
			return nil
		case tcell.KeyPgUp:
			row, col := helpView.GetScrollOffset()
			helpView.ScrollTo(row-10, col)
			return nil
		case tcell.KeyPgDn:
			row, col := helpView.GetScrollOffset()
			helpView.ScrollTo(row+10, col)
			return nil
		}
		return event
	})

	a.pages.AddPage("help", flex, true, true)
}
