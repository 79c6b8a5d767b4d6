package ui

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rivo/tview"
	"go.uber.org/zap"

	"rtchat/client/api"
	"rtchat/client/reconcile"
	"rtchat/client/session"
	"rtchat/client/store"
	"rtchat/client/transport"
	"rtchat/config"
)

const noticeTTL = 6 * time.Second

// Deps are the client components the UI reads from and drives.
type Deps struct {
	Config    *config.ClientConfig
	Log       *zap.Logger
	Store     *store.Store
	Session   *session.Session
	API       *api.Client
	Transport *transport.Client
	Pipeline  *reconcile.Pipeline
}

// App is the main application
type App struct {
	app   *tview.Application
	pages *tview.Pages

	cfg       *config.ClientConfig
	log       *zap.Logger
	store     *store.Store
	session   *session.Session
	api       *api.Client
	transport *transport.Client
	pipeline  *reconcile.Pipeline

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	notice      string
	noticeLevel reconcile.Level
	noticeAt    time.Time
	unread      int
	connErr     string
	authNotice  string

	usersList      *tview.List
	listedUsers    []string // user ids in list order
	chatView       *tview.TextView
	typingView     *tview.TextView
	messageInput   *tview.InputField
	chatStatus     *tview.TextView
	statusBar      *tview.TextView
	connectionView *tview.TextView
	chatOpen       bool
	threadMode     bool
	selected       int // highlighted message in thread mode
	renderedCount  int

	redrawQueued     atomic.Bool
	statusTicker     *time.Ticker
	statusTickerDone chan struct{}
}

// NewApp creates a new application instance
func NewApp(d Deps) *App {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		app:       tview.NewApplication(),
		cfg:       d.Config,
		log:       log.Named("ui"),
		store:     d.Store,
		session:   d.Session,
		api:       d.API,
		transport: d.Transport,
		pipeline:  d.Pipeline,
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.store.Subscribe(a.scheduleRedraw)
	a.session.OnSignOut(func() {
		a.app.QueueUpdateDraw(a.signedOut)
	})
	return a
}

// Notify shows text in the status bar. It is the pipeline's notifier.
func (a *App) Notify(level reconcile.Level, text string) {
	a.mu.Lock()
	a.notice, a.noticeLevel, a.noticeAt = text, level, time.Now()
	a.mu.Unlock()
	a.scheduleRedraw()
}

// scheduleRedraw coalesces store change notifications into one redraw.
func (a *App) scheduleRedraw() {
	if !a.redrawQueued.CompareAndSwap(false, true) {
		return
	}
	go a.app.QueueUpdateDraw(func() {
		a.redrawQueued.Store(false)
		a.render()
	})
}

// Run starts the application
func (a *App) Run() error {
	defer a.cancel()
	a.pages = tview.NewPages()

	// Create empty background
	background := tview.NewBox()
	background.SetBackgroundColor(ColorShade)
	a.pages.AddPage("background", background, true, true)

	// Show auth dialog on top
	a.showAuthDialog()

	return a.app.SetRoot(a.pages, true).EnableMouse(false).Run()
}

// render refreshes every visible view from the store.
func (a *App) render() {
	if a.usersList == nil {
		return
	}
	a.updateUsersList()
	a.updateConnectionStatus()
	a.updateStatusBarText()
	if a.chatOpen {
		a.updateChat()
	}
}

// quit exits the application
func (a *App) quit() {
	a.stopStatusTicker()
	a.transport.Disconnect()
	a.app.Stop()
}

// signOut revokes the token server-side and drops the local session.
func (a *App) signOut() {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
		defer cancel()
		if err := a.api.Logout(ctx); err != nil {
			a.log.Debug("logout request failed", zap.Error(err))
		}
		a.session.SignOut()
	}()
}

// signedOut returns to the sign-in form. Runs on the UI goroutine.
func (a *App) signedOut() {
	a.stopStatusTicker()
	a.chatOpen = false
	a.threadMode = false
	a.usersList = nil
	a.chatView = nil
	a.pages.RemovePage("chat")
	a.pages.RemovePage("main")
	a.pages.RemovePage("dialog")
	a.pages.RemovePage("help")
	a.pages.RemovePage("confirm")

	background := tview.NewBox()
	background.SetBackgroundColor(ColorShade)
	a.pages.AddPage("background", background, true, true)
	a.showAuthDialog()
}

func (a *App) statusNotice() (string, reconcile.Level, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.notice == "" || time.Since(a.noticeAt) > noticeTTL {
		return "", 0, false
	}
	return a.notice, a.noticeLevel, true
}

func newStatusBar() *tview.TextView {
	bar := tview.NewTextView()
	bar.SetBackgroundColor(ColorBar)
	bar.SetTextColor(ColorTitle)
	bar.SetTextAlign(tview.AlignCenter)
	bar.SetDynamicColors(true)
	return bar
}

func styledBorder(box *tview.Box, title string) {
	box.SetBorder(true)
	box.SetBorderColor(ColorBorder)
	box.SetBackgroundColor(ColorBg)
	box.SetTitle(title)
	box.SetTitleColor(ColorTitle)
}

// centered wraps p in a fixed size box in the middle of the screen.
func centered(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(p, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)
}
