package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"rtchat/models"
)

func (a *App) showMainScreen() {
	// Remove auth dialogs and background
	a.pages.RemovePage("auth")
	a.pages.RemovePage("register")
	a.pages.RemovePage("background")

	mainPage := a.createMainPage()
	a.pages.AddPage("main", mainPage, true, true)

	a.startStatusTicker()
	a.render()

	a.app.SetFocus(a.usersList)
}

func (a *App) createMainPage() tview.Primitive {
	// Users list on the left
	a.usersList = tview.NewList()
	styledBorder(a.usersList.Box, " Users ")
	a.usersList.SetMainTextColor(ColorFg)
	a.usersList.SetMainTextStyle(tcell.StyleDefault.Foreground(ColorFg).Background(ColorBg))
	a.usersList.SetSecondaryTextColor(ColorOffline)
	a.usersList.SetSelectedTextColor(ColorTitle)
	a.usersList.SetSelectedBackgroundColor(ColorBar)
	a.usersList.SetHighlightFullLine(true)
	a.usersList.ShowSecondaryText(true)

	a.usersList.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		if index < len(a.listedUsers) {
			a.openChat(a.listedUsers[index])
		}
	})

	// Connection status view
	a.connectionView = tview.NewTextView()
	styledBorder(a.connectionView.Box, " Connection ")
	a.connectionView.SetTextColor(ColorFg)
	a.connectionView.SetDynamicColors(true)
	a.connectionView.SetTextAlign(tview.AlignCenter)

	a.statusBar = newStatusBar()

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.usersList, 0, 1, true).
		AddItem(a.connectionView, 3, 0, false).
		AddItem(a.statusBar, 1, 0, false)
	mainFlex.SetBackgroundColor(ColorBg)

	mainFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			a.showHelp()
			return nil
		case tcell.KeyF2:
			a.showProfileDialog()
			return nil
		case tcell.KeyF3:
			a.showSearchDialog()
			return nil
		case tcell.KeyF5:
			a.pipeline.RefreshDirectory(a.ctx)
			go a.refreshUnread()
			return nil
		case tcell.KeyF6:
			a.toggleConnection()
			return nil
		case tcell.KeyF9:
			a.signOut()
			return nil
		case tcell.KeyF10, tcell.KeyEsc:
			a.quit()
			return nil
		}
		return event
	})

	return mainFlex
}

// updateUsersList rebuilds the list from the directory, keeping the cursor on
// the same user.
func (a *App) updateUsersList() {
	if a.usersList == nil {
		return
	}
	me, _ := a.store.CurrentUser()

	current := ""
	if idx := a.usersList.GetCurrentItem(); idx >= 0 && idx < len(a.listedUsers) {
		current = a.listedUsers[idx]
	}

	unread := a.unreadBySender(me.ID)
	now := time.Now()

	a.usersList.Clear()
	a.listedUsers = a.listedUsers[:0]
	selected := 0
	for _, u := range a.store.Users() {
		if u.ID == me.ID {
			continue
		}
		if u.ID == current {
			selected = len(a.listedUsers)
		}
		a.listedUsers = append(a.listedUsers, u.ID)
		a.usersList.AddItem(a.userLine(u, unread[u.ID]), a.userDetail(u, now), 0, nil)
	}
	if len(a.listedUsers) > 0 {
		a.usersList.SetCurrentItem(selected)
	}
	a.usersList.SetTitle(fmt.Sprintf(" Users [%s] ", tview.Escape(me.DisplayName())))
}

func (a *App) userLine(u models.User, unread int) string {
	status := "[gray]○[-]"
	if u.IsOnline {
		status = "[green]●[-]"
	}
	line := fmt.Sprintf("%s %s", status, tview.Escape(u.DisplayName()))
	if unread > 0 {
		line += fmt.Sprintf(" %s(%d)%s", tagUnread, unread, tagReset)
	}
	if a.store.IsTyping(u.ID) {
		line += " " + tagTyping + "typing..." + tagReset
	}
	return line
}

func (a *App) userDetail(u models.User, now time.Time) string {
	if u.IsOnline {
		return "   online"
	}
	if seen := formatLastSeen(u.LastSeen, now); seen != "" {
		return "   last seen " + seen
	}
	return "   offline"
}

// unreadBySender counts unread incoming messages the client holds per sender.
func (a *App) unreadBySender(meID string) map[string]int {
	counts := make(map[string]int)
	if meID == "" {
		return counts
	}
	for _, m := range a.store.Messages() {
		if m.ReceiverID == meID && m.Persisted() && !m.IsRead && !m.IsDeleted {
			counts[m.SenderID]++
		}
	}
	return counts
}
