package ui

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/pkg/errors"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"rtchat/client/api"
	"rtchat/models"
)

func newForm(title string) *tview.Form {
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(ColorField)
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(ColorBar)
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(title)
	form.SetTitleColor(ColorTitle)
	return form
}

func newFormStatus() *tview.TextView {
	statusText := tview.NewTextView()
	statusText.SetBackgroundColor(ColorBg)
	statusText.SetTextColor(tcell.ColorRed)
	statusText.SetTextAlign(tview.AlignCenter)
	statusText.SetDynamicColors(true)
	return statusText
}

func newField(label string, width int, masked bool) *tview.InputField {
	field := tview.NewInputField()
	field.SetLabel(label)
	field.SetFieldWidth(width)
	field.SetBackgroundColor(ColorBg)
	if masked {
		field.SetMaskCharacter('*')
	}
	return field
}

func (a *App) showAuthDialog() {
	form := newForm(" rtchat Sign In ")
	statusText := newFormStatus()

	usernameField := newField("Username: ", 30, false)
	passwordField := newField("Password: ", 30, true)
	form.AddFormItem(usernameField)
	form.AddFormItem(passwordField)

	form.AddButton("Sign In", func() {
		creds := models.Credentials{
			Username: usernameField.GetText(),
			Password: passwordField.GetText(),
		}
		if err := creds.Validate(); err != nil {
			statusText.SetText("[red]" + tview.Escape(err.Error()) + "[-]")
			return
		}
		a.doAuth(statusText, func(ctx context.Context) (models.AuthResponse, error) {
			return a.api.Login(ctx, creds)
		})
	})

	form.AddButton("Register", func() {
		a.showRegisterDialog()
	})

	a.mu.Lock()
	if a.authNotice != "" {
		statusText.SetText("[red]" + tview.Escape(a.authNotice) + "[-]")
		a.authNotice = ""
	}
	a.mu.Unlock()

	form.AddButton("Quit", func() {
		a.quit()
	})

	formFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(statusText, 1, 0, false)

	a.pages.RemovePage("register")
	a.pages.AddPage("auth", centered(formFlex, 54, 12), true, true)
	a.app.SetFocus(form)
}

func (a *App) showRegisterDialog() {
	form := newForm(" rtchat Registration ")
	statusText := newFormStatus()

	usernameField := newField("Username: ", 30, false)
	emailField := newField("Email:    ", 30, false)
	passwordField := newField("Password: ", 30, true)
	confirmField := newField("Confirm:  ", 30, true)
	form.AddFormItem(usernameField)
	form.AddFormItem(emailField)
	form.AddFormItem(passwordField)
	form.AddFormItem(confirmField)

	form.AddButton("Create", func() {
		reg := models.Registration{
			Username:        usernameField.GetText(),
			Email:           emailField.GetText(),
			Password:        passwordField.GetText(),
			ConfirmPassword: confirmField.GetText(),
		}
		if err := reg.Validate(); err != nil {
			statusText.SetText("[red]" + tview.Escape(err.Error()) + "[-]")
			return
		}
		a.doAuth(statusText, func(ctx context.Context) (models.AuthResponse, error) {
			return a.api.Register(ctx, reg)
		})
	})

	form.AddButton("Back", func() {
		a.showAuthDialog()
	})

	formFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(statusText, 1, 0, false)

	a.pages.RemovePage("auth")
	a.pages.AddPage("register", centered(formFlex, 54, 16), true, true)
	a.app.SetFocus(form)
}

// doAuth runs request off the UI goroutine, then opens the session and the
// push channel.
func (a *App) doAuth(statusText *tview.TextView, request func(ctx context.Context) (models.AuthResponse, error)) {
	statusText.SetText("[yellow]Signing in...[-]")

	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
		defer cancel()

		resp, err := request(ctx)
		if err == nil {
			err = a.session.SignIn(resp)
		}
		if err != nil {
			a.log.Info("sign in failed", zap.Error(err))
			a.app.QueueUpdateDraw(func() {
				statusText.SetText("[red]" + tview.Escape(authErrorText(err)) + "[-]")
			})
			return
		}

		// The profile call proves the token is accepted on authenticated
		// routes. Signing out rebuilds the sign-in form, which shows the
		// reason.
		me, err := a.api.Profile(ctx)
		if err != nil {
			a.log.Info("profile check failed", zap.Error(err))
			a.mu.Lock()
			a.authNotice = authErrorText(err)
			a.mu.Unlock()
			a.session.SignOut()
			return
		}

		a.session.SetUser(me)
		a.pipeline.SignedIn(me)
		a.pipeline.RefreshDirectory(a.ctx)
		connErr := a.connect()
		if errors.Is(connErr, api.ErrUnauthorized) {
			return
		}

		a.app.QueueUpdateDraw(func() {
			a.showMainScreen()
			if connErr != nil {
				a.setConnectionError(connErr.Error())
			}
		})
	}()
}

func authErrorText(err error) string {
	if errors.Is(err, api.ErrUnauthorized) {
		return "The server rejected the session. Please sign in again."
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return fmt.Sprintf("Connection failed: %v", errors.Cause(err))
}
