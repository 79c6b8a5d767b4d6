package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"rtchat/client/reconcile"
	"rtchat/models"
)

const (
	inputHints  = " Enter:Send | Tab:Messages | F5:Older | Esc:Back "
	editHints   = " Enter:Save edit | Esc:Cancel edit "
	threadHints = " ↑↓:Select | e:Edit | d:Delete | r:Retry | F5:Older | Tab/Esc:Input "
)

func (a *App) openChat(userID string) {
	a.chatOpen = true
	a.threadMode = false
	a.selected = -1
	a.renderedCount = -1

	chatPage := a.createChatPage()
	a.pages.AddPage("chat", chatPage, true, true)
	a.pages.SwitchToPage("chat")

	a.pipeline.Select(a.ctx, userID)
	a.app.SetFocus(a.messageInput)
	a.render()
}

func (a *App) closeChat() {
	a.pipeline.Select(a.ctx, "")
	a.chatOpen = false
	a.threadMode = false
	a.chatView = nil
	a.pages.RemovePage("chat")
	a.pages.SwitchToPage("main")
	a.app.SetFocus(a.usersList)
	go a.refreshUnread()
}

func (a *App) chatTitle(userID string) string {
	u, ok := a.store.User(userID)
	if !ok {
		u = models.User{ID: userID}
	}
	status := "○ offline"
	if u.IsOnline {
		status = "● online"
	} else if seen := formatLastSeen(u.LastSeen, time.Now()); seen != "" {
		status = "○ last seen " + seen
	}
	return fmt.Sprintf(" %s ─ %s ", tview.Escape(u.DisplayName()), status)
}

func (a *App) createChatPage() tview.Primitive {
	// Message thread
	a.chatView = tview.NewTextView()
	styledBorder(a.chatView.Box, " Chat ")
	a.chatView.SetTextColor(ColorFg)
	a.chatView.SetDynamicColors(true)
	a.chatView.SetRegions(true)
	a.chatView.SetScrollable(true)
	a.chatView.SetWrap(true)

	a.typingView = tview.NewTextView()
	a.typingView.SetBackgroundColor(ColorBg)
	a.typingView.SetDynamicColors(true)

	// Message input
	a.messageInput = tview.NewInputField()
	a.messageInput.SetLabel("> ")
	a.messageInput.SetFieldWidth(0)
	a.messageInput.SetFieldBackgroundColor(ColorField)
	a.messageInput.SetFieldTextColor(ColorFg)
	a.messageInput.SetLabelColor(ColorHighlight)
	styledBorder(a.messageInput.Box, " Message ")

	a.messageInput.SetChangedFunc(func(text string) {
		a.pipeline.Keystroke(text)
	})
	a.messageInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		if strings.TrimSpace(a.messageInput.GetText()) == "" {
			return
		}
		a.pipeline.Submit()
		a.messageInput.SetText("")
	})

	a.chatStatus = newStatusBar()
	a.chatStatus.SetText(inputHints)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.chatView, 0, 1, false).
		AddItem(a.typingView, 1, 0, false).
		AddItem(a.messageInput, 3, 0, true).
		AddItem(a.chatStatus, 1, 0, false)
	mainFlex.SetBackgroundColor(ColorBg)

	mainFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if a.threadMode {
			return a.threadKey(event)
		}
		switch event.Key() {
		case tcell.KeyEsc:
			if d, ok := a.store.Draft(); ok && d.IsEdit() {
				a.pipeline.CancelEdit()
				a.messageInput.SetText("")
				return nil
			}
			a.closeChat()
			return nil
		case tcell.KeyTab:
			a.enterThreadMode()
			return nil
		case tcell.KeyF5:
			a.loadOlder()
			return nil
		case tcell.KeyPgUp:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row-10, col)
			return nil
		case tcell.KeyPgDn:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row+10, col)
			return nil
		}
		return event
	})

	return mainFlex
}

func (a *App) loadOlder() {
	if active := a.store.ActiveUser(); active != "" {
		a.pipeline.LoadHistory(a.ctx, active)
	}
}

func (a *App) enterThreadMode() {
	conv := a.store.ActiveConversation()
	if len(conv) == 0 {
		return
	}
	a.threadMode = true
	a.selected = len(conv) - 1
	a.app.SetFocus(a.chatView)
	a.updateChat()
}

func (a *App) leaveThreadMode() {
	a.threadMode = false
	a.selected = -1
	a.chatView.Highlight()
	a.app.SetFocus(a.messageInput)
	a.updateChat()
}

// threadKey handles keys while a message is selected.
func (a *App) threadKey(event *tcell.EventKey) *tcell.EventKey {
	conv := a.store.ActiveConversation()
	if len(conv) == 0 {
		a.leaveThreadMode()
		return nil
	}
	if a.selected >= len(conv) {
		a.selected = len(conv) - 1
	}

	switch event.Key() {
	case tcell.KeyEsc, tcell.KeyTab:
		a.leaveThreadMode()
		return nil
	case tcell.KeyUp:
		if a.selected > 0 {
			a.selected--
		} else {
			a.loadOlder()
		}
		a.updateChat()
		return nil
	case tcell.KeyDown:
		if a.selected < len(conv)-1 {
			a.selected++
		}
		a.updateChat()
		return nil
	case tcell.KeyHome:
		a.selected = 0
		a.updateChat()
		return nil
	case tcell.KeyEnd:
		a.selected = len(conv) - 1
		a.updateChat()
		return nil
	case tcell.KeyF5:
		a.loadOlder()
		return nil
	case tcell.KeyRune:
		msg := conv[a.selected]
		switch event.Rune() {
		case 'e':
			a.editMessage(msg)
		case 'd':
			a.confirmDelete(msg)
		case 'r':
			if msg.Status == models.StatusFailed {
				a.pipeline.Retry(msg.TempID)
			}
		}
		return nil
	}
	return nil
}

func (a *App) editMessage(msg models.Message) {
	me, _ := a.store.CurrentUser()
	if msg.SenderID != me.ID || msg.IsDeleted || !msg.Persisted() {
		a.Notify(reconcile.LevelError, "Only your own sent messages can be edited")
		return
	}
	a.pipeline.StartEdit(msg.ID)
	a.leaveThreadMode()
	a.messageInput.SetText(msg.Content)
}

func (a *App) confirmDelete(msg models.Message) {
	me, _ := a.store.CurrentUser()
	if msg.SenderID != me.ID || msg.IsDeleted || !msg.Persisted() {
		a.Notify(reconcile.LevelError, "Only your own sent messages can be deleted")
		return
	}
	a.showConfirm("Delete this message for everyone?", func() {
		a.pipeline.Delete(msg.ID)
	})
}

// updateChat redraws the thread, the typing line and the hints.
func (a *App) updateChat() {
	if a.chatView == nil {
		return
	}
	active := a.store.ActiveUser()
	if active == "" {
		return
	}
	me, _ := a.store.CurrentUser()
	conv := a.store.ActiveConversation()
	now := time.Now()

	a.chatView.SetTitle(a.chatTitle(active))

	var b strings.Builder
	if len(conv) == 0 {
		b.WriteString(tagMuted + "No messages yet. Say hello!" + tagReset)
	}
	for i, m := range conv {
		if i == 0 || !sameDay(conv[i-1].Timestamp, m.Timestamp) {
			fmt.Fprintf(&b, "%s──── %s ────%s\n", tagMuted, formatDateSeparator(m.Timestamp, now), tagReset)
		}
		fmt.Fprintf(&b, "[\"m%d\"]%s[\"\"]\n", i, a.messageLine(m, me.ID, now))
	}
	a.chatView.SetText(b.String())

	if a.threadMode && a.selected >= 0 && a.selected < len(conv) {
		region := fmt.Sprintf("m%d", a.selected)
		a.chatView.Highlight(region)
		a.chatView.ScrollToHighlight()
	} else if len(conv) != a.renderedCount {
		a.chatView.ScrollToEnd()
	}
	a.renderedCount = len(conv)

	if a.store.IsTyping(active) {
		u, ok := a.store.User(active)
		if !ok {
			u = models.User{ID: active}
		}
		a.typingView.SetText(fmt.Sprintf(" %s%s is typing...%s", tagTyping, tview.Escape(u.DisplayName()), tagReset))
	} else {
		a.typingView.SetText("")
	}

	a.updateChatStatus()
}

func (a *App) updateChatStatus() {
	label := "> "
	if d, ok := a.store.Draft(); ok && d.IsEdit() {
		label = "edit> "
	}
	a.messageInput.SetLabel(label)

	if text, _, ok := a.statusNotice(); ok {
		a.chatStatus.SetText(" " + tview.Escape(text) + " ")
		return
	}
	switch {
	case a.threadMode:
		a.chatStatus.SetText(threadHints)
	case !a.store.Connected():
		a.chatStatus.SetText(" " + tagFailed + "Offline" + tagReset + " │ F5:Older | Esc:Back ")
	default:
		if d, ok := a.store.Draft(); ok && d.IsEdit() {
			a.chatStatus.SetText(editHints)
		} else {
			a.chatStatus.SetText(inputHints)
		}
	}
}

func (a *App) messageLine(m models.Message, meID string, now time.Time) string {
	author := tagOther + "them" + tagReset
	if u, ok := a.store.User(m.SenderID); ok {
		author = tagOther + tview.Escape(u.DisplayName()) + tagReset
	}
	if m.SenderID == meID {
		author = tagOwn + "You" + tagReset
	}

	text := tview.Escape(m.DisplayText(meID))
	if m.IsDeleted {
		text = tagMuted + text + tagReset
	}

	line := fmt.Sprintf("%s%s%s %s: %s", tagMuted, formatTime(m.Timestamp, now), tagReset, author, text)
	if m.SenderID == meID && !m.IsDeleted {
		line += " " + statusMark(m)
	}
	return line
}

func statusMark(m models.Message) string {
	switch {
	case m.Status == models.StatusFailed:
		return tagFailed + "✗ failed (r to retry)" + tagReset
	case !m.Persisted():
		return tagPending + "○" + tagReset
	case m.IsRead:
		return tagSent + "✓✓" + tagReset
	default:
		return tagSent + "✓" + tagReset
	}
}
