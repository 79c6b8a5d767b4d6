package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"rtchat/client/api"
	"rtchat/client/reconcile"
	"rtchat/client/transport"
)

// connect opens the push channel with the session token. A rejected token
// ends the session.
func (a *App) connect() error {
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
	defer cancel()

	err := a.transport.Connect(ctx, a.api.BaseURL(), a.session.Token())
	switch {
	case err == nil, errors.Is(err, transport.ErrAlreadyConnected):
		a.setConnErr("")
		return nil
	case errors.Is(err, api.ErrUnauthorized):
		a.log.Warn("push channel rejected the session")
		a.Notify(reconcile.LevelError, "Your session has expired. Please sign in again.")
		go a.session.SignOut()
		return err
	default:
		a.log.Info("connect failed", zap.Error(err))
		a.setConnErr(err.Error())
		return err
	}
}

func (a *App) setConnErr(text string) {
	a.mu.Lock()
	a.connErr = text
	a.mu.Unlock()
}

func (a *App) updateConnectionStatus() {
	if a.connectionView == nil {
		return
	}
	if a.store.Connected() {
		me, _ := a.store.CurrentUser()
		a.connectionView.SetText(fmt.Sprintf("[green]● Connected to %s[-] [gray]│ %s[-]",
			a.api.BaseURL(), tview.Escape(me.DisplayName())))
		return
	}
	a.mu.Lock()
	connErr := a.connErr
	a.mu.Unlock()
	if connErr != "" {
		a.setConnectionError(connErr)
		return
	}
	a.connectionView.SetText(fmt.Sprintf("[red]○ Disconnected from %s[-]", a.api.BaseURL()))
}

func (a *App) setConnectionError(err string) {
	if a.connectionView == nil {
		return
	}
	a.connectionView.SetText(fmt.Sprintf("[red]✗ Error: %s[-]", tview.Escape(err)))
}

func (a *App) updateStatusBarText() {
	if a.statusBar == nil {
		return
	}
	if text, level, ok := a.statusNotice(); ok {
		color := "[white]"
		if level == reconcile.LevelError {
			color = "[red:teal]"
		}
		a.statusBar.SetText(" " + color + tview.Escape(text) + "[-:-] ")
		return
	}
	a.mu.Lock()
	unread := a.unread
	a.mu.Unlock()

	hints := " F1:Help | F2:Profile | F3:Find | F5:Refresh | F6:Connect | F9:Sign out | F10:Quit "
	if a.store.Connected() {
		hints = " F1:Help | F2:Profile | F3:Find | F5:Refresh | F6:Disconnect | F9:Sign out | F10:Quit "
	}
	if unread > 0 {
		hints = fmt.Sprintf(" %s%d unread%s │%s", tagUnread, unread, tagReset, hints)
	}
	a.statusBar.SetText(hints)
}

// startStatusTicker redraws once a second so notices and last-seen times age,
// and refreshes the directory and unread count on their own intervals.
func (a *App) startStatusTicker() {
	if a.statusTicker != nil {
		return
	}
	done := make(chan struct{})
	a.statusTickerDone = done
	a.statusTicker = time.NewTicker(1 * time.Second)
	ticks := a.statusTicker.C

	directory := time.NewTicker(a.cfg.DirectoryRefresh)
	unread := time.NewTicker(a.cfg.UnreadRefresh)
	go a.refreshUnread()

	go func() {
		defer directory.Stop()
		defer unread.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticks:
				a.scheduleRedraw()
			case <-directory.C:
				a.pipeline.RefreshDirectory(a.ctx)
			case <-unread.C:
				a.refreshUnread()
			}
		}
	}()
}

func (a *App) stopStatusTicker() {
	if a.statusTicker != nil {
		a.statusTicker.Stop()
		close(a.statusTickerDone)
		a.statusTicker = nil
	}
}

func (a *App) refreshUnread() {
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
	defer cancel()
	n, err := a.pipeline.RefreshUnread(ctx)
	if err != nil {
		a.log.Debug("unread count failed", zap.Error(err))
		return
	}
	a.mu.Lock()
	a.unread = n
	a.mu.Unlock()
	a.scheduleRedraw()
}

func (a *App) toggleConnection() {
	if a.store.Connected() || a.transport.IsConnected() {
		a.connectionView.SetText("[yellow]Disconnecting...[-]")
		a.transport.Disconnect()
		return
	}
	a.connectionView.SetText("[yellow]Connecting...[-]")
	go func() {
		a.connect()
		a.scheduleRedraw()
	}()
}
