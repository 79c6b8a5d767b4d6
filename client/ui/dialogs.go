package ui

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"rtchat/models"
)

// dialog shows p over the current page and focuses focus.
func (a *App) dialog(p tview.Primitive, focus tview.Primitive, width, height int) {
	a.pages.AddPage("dialog", centered(p, width, height), true, true)
	a.app.SetFocus(focus)
}

func (a *App) closeDialog() {
	a.pages.RemovePage("dialog")
	if a.chatOpen && a.messageInput != nil {
		if a.threadMode {
			a.app.SetFocus(a.chatView)
		} else {
			a.app.SetFocus(a.messageInput)
		}
		return
	}
	if a.usersList != nil {
		a.app.SetFocus(a.usersList)
	}
}

func (a *App) showProfileDialog() {
	me, ok := a.store.CurrentUser()
	if !ok {
		return
	}

	form := newForm(" Profile ")
	statusLabel := newFormStatus()

	usernameField := newField("Username: ", 30, false)
	usernameField.SetText(me.Username)
	emailField := newField("Email:    ", 30, false)
	emailField.SetText(me.Email)
	avatarField := newField("Avatar:   ", 30, false)
	avatarField.SetText(me.Avatar)
	avatarField.SetPlaceholder("image URL")

	form.AddFormItem(usernameField)
	form.AddFormItem(emailField)
	form.AddFormItem(avatarField)

	form.AddButton("Save", func() {
		upd := models.ProfileUpdate{}
		if v := usernameField.GetText(); v != me.Username {
			upd.Username = v
		}
		if v := emailField.GetText(); v != me.Email {
			upd.Email = v
		}
		if v := avatarField.GetText(); v != me.Avatar {
			upd.Avatar = v
		}
		if upd == (models.ProfileUpdate{}) {
			a.closeDialog()
			return
		}
		if err := upd.Validate(); err != nil {
			statusLabel.SetText(tview.Escape(err.Error()))
			return
		}

		statusLabel.SetText("[yellow]Saving...[-]")
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
			defer cancel()
			u, err := a.pipeline.UpdateProfile(ctx, upd)
			if err == nil {
				a.session.SetUser(u)
			}
			a.app.QueueUpdateDraw(func() {
				if err != nil {
					statusLabel.SetText("[red]" + tview.Escape(authErrorText(err)) + "[-]")
					return
				}
				a.closeDialog()
			})
		}()
	})

	form.AddButton("Cancel", func() {
		a.closeDialog()
	})

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(statusLabel, 1, 0, false)
	flex.SetBackgroundColor(ColorBg)

	a.dialog(flex, form, 54, 14)
}

// showSearchDialog finds users by name on the server and opens a chat with the
// chosen one.
func (a *App) showSearchDialog() {
	input := tview.NewInputField()
	input.SetLabel("Find: ")
	input.SetFieldWidth(0)
	input.SetBackgroundColor(ColorBg)
	input.SetFieldBackgroundColor(ColorField)
	input.SetFieldTextColor(ColorFg)
	input.SetLabelColor(ColorHighlight)

	results := tview.NewList()
	results.SetBackgroundColor(ColorBg)
	results.SetMainTextColor(ColorFg)
	results.SetSelectedBackgroundColor(ColorBar)
	results.ShowSecondaryText(false)
	var found []models.User

	status := newFormStatus()

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false).
		AddItem(status, 1, 0, false)
	styledBorder(flex.Box, " Find User ")

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEsc:
			a.closeDialog()
		case tcell.KeyEnter:
			query := input.GetText()
			if query == "" {
				return
			}
			status.SetText("[yellow]Searching...[-]")
			go func() {
				ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
				defer cancel()
				users, err := a.api.SearchUsers(ctx, query)
				a.app.QueueUpdateDraw(func() {
					if err != nil {
						status.SetText("[red]" + tview.Escape(authErrorText(err)) + "[-]")
						return
					}
					found = users
					results.Clear()
					for _, u := range users {
						results.AddItem(tview.Escape(u.DisplayName())+" "+tagMuted+tview.Escape(u.Email)+tagReset, "", 0, nil)
					}
					status.SetText(fmt.Sprintf("[white]%d found[-]", len(users)))
					if len(users) > 0 {
						a.app.SetFocus(results)
					}
				})
			}()
		case tcell.KeyTab, tcell.KeyDown:
			a.app.SetFocus(results)
		}
	})

	results.SetSelectedFunc(func(index int, _, _ string, _ rune) {
		if index >= len(found) {
			return
		}
		id := found[index].ID
		a.closeDialog()
		if a.chatOpen {
			a.closeChat()
		}
		a.openChat(id)
	})
	results.SetDoneFunc(func() {
		a.app.SetFocus(input)
	})

	a.dialog(flex, input, 60, 16)
}

// showConfirm asks a yes/no question and runs onYes on confirmation.
func (a *App) showConfirm(question string, onYes func()) {
	modal := tview.NewModal()
	modal.SetText(question)
	modal.SetBackgroundColor(ColorBg)
	modal.SetTextColor(ColorFg)
	modal.SetButtonBackgroundColor(ColorBar)
	modal.SetButtonTextColor(ColorTitle)
	modal.AddButtons([]string{"Yes", "No"})
	modal.SetDoneFunc(func(buttonIndex int, buttonLabel string) {
		a.pages.RemovePage("confirm")
		if a.threadMode && a.chatView != nil {
			a.app.SetFocus(a.chatView)
		}
		if buttonLabel == "Yes" {
			onYes()
		}
	})
	a.pages.AddPage("confirm", modal, false, true)
	a.app.SetFocus(modal)
}
