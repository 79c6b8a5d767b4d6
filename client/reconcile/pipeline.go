package reconcile

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rtchat/client/api"
	"rtchat/client/presence"
	"rtchat/client/store"
	"rtchat/models"
	"rtchat/protocol"
)

var (
	ErrNoDraft      = errors.New("nothing to send")
	ErrEmptyDraft   = errors.New("message is empty")
	ErrNoRecipient  = errors.New("no conversation selected")
	ErrDisconnected = errors.New("not connected")
	ErrSignedOut    = errors.New("not signed in")
	ErrNotOwner     = errors.New("only your own messages can be changed")
	ErrNotFound     = errors.New("message not found")
)

// Transport emits client events on the push channel.
type Transport interface {
	presence.Emitter
	SendMessage(content, recipientID, tempID string) error
	EditMessage(messageID, content string) error
	DeleteMessage(messageID string) error
}

// API is the subset of the HTTP API the pipeline drives.
type API interface {
	History(ctx context.Context, counterpartID, cursor string) (models.Page, error)
	Users(ctx context.Context) ([]models.User, error)
	User(ctx context.Context, id string) (models.User, error)
	MarkRead(ctx context.Context, ids []string) error
	UnreadCount(ctx context.Context) (int, error)
	UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (models.User, error)
	DeleteMessage(ctx context.Context, id string) error
}

type Options struct {
	QueueSize           int
	CorrelationWindow   time.Duration
	TypingTimeout       time.Duration
	RemoteTypingTimeout time.Duration

	Clock     presence.Clock
	Now       func() time.Time
	NewTempID func() string
	// Go runs request goroutines. Tests replace it to run them inline.
	Go func(func())
}

func (o *Options) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.CorrelationWindow <= 0 {
		o.CorrelationWindow = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = presence.RealClock
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewTempID == nil {
		o.NewTempID = uuid.NewString
	}
	if o.Go == nil {
		o.Go = func(fn func()) { go fn() }
	}
}

// Pipeline is the single writer to the Store. Push events, history pages,
// typing expiries and user intents are queued and applied one at a time by
// Run.
type Pipeline struct {
	store     *store.Store
	transport Transport
	api       API
	notifier  Notifier
	log       *zap.Logger
	opts      Options

	presence *presence.Reconciler
	typer    *presence.Typer
	history  *historyTracker
	// ids of stub users whose profile is being fetched
	resolving map[string]bool

	queue chan func()
	done  chan struct{}
	once  sync.Once

	mu             sync.Mutex
	onUnauthorized func()
}

func New(st *store.Store, tr Transport, client API, notifier Notifier, log *zap.Logger, opts Options) *Pipeline {
	opts.defaults()
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		store:     st,
		transport: tr,
		api:       client,
		notifier:  notifier,
		log:       log.Named("pipeline"),
		opts:      opts,
		history:   newHistoryTracker(),
		resolving: make(map[string]bool),
		queue:     make(chan func(), opts.QueueSize),
		done:      make(chan struct{}),
	}
	p.presence = presence.NewReconciler(st, opts.RemoteTypingTimeout, opts.Clock, log)
	p.presence.SetPoster(p.post)
	p.typer = presence.NewTyper(tr, opts.TypingTimeout, opts.Clock, log)
	return p
}

// OnUnauthorized registers the sign-out hook run when a request reports the
// session is no longer valid.
func (p *Pipeline) OnUnauthorized(fn func()) {
	p.mu.Lock()
	p.onUnauthorized = fn
	p.mu.Unlock()
}

// Run applies queued work until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-p.queue:
			fn()
		}
	}
}

func (p *Pipeline) stop() {
	p.once.Do(func() {
		close(p.done)
		p.typer.Close()
		p.presence.Close()
	})
}

// post queues fn for the loop. It blocks while the queue is full and drops
// fn once the loop has stopped.
func (p *Pipeline) post(fn func()) {
	select {
	case p.queue <- fn:
	case <-p.done:
	}
}

// Enqueue hands an inbound push event to the loop. It is the transport's sink.
func (p *Pipeline) Enqueue(env protocol.Envelope) {
	p.post(func() { p.handlePush(env) })
}

func (p *Pipeline) handlePush(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventConnect:
		p.store.SetConnection(true)

	case protocol.EventDisconnect:
		p.store.SetConnection(false)
		p.typer.Close()
		p.presence.Disconnected()

	case protocol.EventUsers:
		var users []models.User
		if err := env.Payload(&users); err != nil {
			p.dropMalformed(env, err)
			return
		}
		p.store.SetUsers(users)

	case protocol.EventOnlineUsers:
		var online []protocol.OnlineUser
		if err := env.Payload(&online); err != nil {
			p.dropMalformed(env, err)
			return
		}
		p.presence.ApplyOnlineList(online)
		p.resolveStubs(context.Background())

	case protocol.EventMessageNew:
		msg, err := env.Message()
		if err != nil {
			p.dropMalformed(env, err)
			return
		}
		p.confirm(msg)
		p.presence.MessageArrived(msg.SenderID)
		if active := p.store.ActiveUser(); active != "" && msg.SenderID == active {
			p.markRead(context.Background(), active)
		}

	case protocol.EventMessageEdited, protocol.EventMessageDeleted:
		msg, err := env.Message()
		if err != nil {
			p.dropMalformed(env, err)
			return
		}
		if err := p.store.UpsertMessage(msg); err != nil {
			p.log.Warn("dropped message event", zap.String("event", env.Event), zap.Error(err))
		}

	case protocol.EventTypingStart, protocol.EventTypingStop:
		var typing protocol.Typing
		if err := env.Payload(&typing); err != nil {
			p.dropMalformed(env, err)
			return
		}
		if env.Event == protocol.EventTypingStart {
			p.presence.TypingStarted(typing.UserID)
		} else {
			p.presence.TypingStopped(typing.UserID)
		}

	case protocol.EventError:
		var perr protocol.Error
		if err := env.Payload(&perr); err != nil {
			p.dropMalformed(env, err)
			return
		}
		p.serverError(perr)

	default:
		p.log.Debug("ignoring event", zap.String("event", env.Event))
	}
}

func (p *Pipeline) dropMalformed(env protocol.Envelope, err error) {
	p.log.Warn("dropped malformed event", zap.String("event", env.Event), zap.Error(err))
}

// confirm applies a message:new. When the server did not echo the tempId the
// newest pending own message with the same parties and content, sent within
// the correlation window, is taken as its provisional copy.
func (p *Pipeline) confirm(msg models.Message) {
	if msg.TempID == "" && msg.ID != "" {
		if _, known := p.store.Message(msg.ID); !known {
			if pending, ok := p.correlate(msg); ok {
				p.log.Debug("correlated confirmation without tempId",
					zap.String("id", msg.ID), zap.String("temp_id", pending.TempID))
				msg.TempID = pending.TempID
			}
		}
	}
	if err := p.store.UpsertMessage(msg); err != nil {
		p.log.Warn("dropped message", zap.Error(err))
	}
}

func (p *Pipeline) correlate(msg models.Message) (models.Message, bool) {
	me, ok := p.store.CurrentUser()
	if !ok || msg.SenderID != me.ID {
		return models.Message{}, false
	}
	now := p.opts.Now()
	return p.store.PendingMatch(func(m models.Message) bool {
		return m.SenderID == me.ID &&
			m.ReceiverID == msg.ReceiverID &&
			m.Content == msg.Content &&
			m.Status == models.StatusPending &&
			now.Sub(m.Timestamp) <= p.opts.CorrelationWindow
	})
}

func (p *Pipeline) serverError(perr protocol.Error) {
	p.log.Warn("server rejected operation",
		zap.String("op", perr.Op),
		zap.String("message_id", perr.MessageID),
		zap.String("temp_id", perr.TempID),
		zap.String("message", perr.Message))

	p.store.SetStatus(perr.TempID, models.StatusFailed)
	text := perr.Message
	if text == "" {
		text = perr.Op + " failed"
	}
	p.notifier.Notify(LevelError, text)
}

// Keystroke records the draft content and drives the local typing signal.
func (p *Pipeline) Keystroke(content string) {
	p.post(func() {
		d, ok := p.store.Draft()
		if !ok {
			active := p.store.ActiveUser()
			if active == "" {
				return
			}
			d = store.NewDraft(active)
		}
		d.Content = content
		p.store.SetDraft(d)
		if !d.IsEdit() {
			p.typer.Keystroke(d.RecipientID, content)
		}
	})
}

// Submit sends the draft, or applies it as an edit when it was started by
// StartEdit.
func (p *Pipeline) Submit() {
	p.post(func() { p.report(p.submit()) })
}

func (p *Pipeline) submit() error {
	d, ok := p.store.Draft()
	if !ok {
		return ErrNoDraft
	}
	content := strings.TrimSpace(d.Content)
	if content == "" {
		return ErrEmptyDraft
	}
	if d.RecipientID == "" {
		return ErrNoRecipient
	}
	me, ok := p.store.CurrentUser()
	if !ok {
		return ErrSignedOut
	}
	if !p.store.Connected() {
		return ErrDisconnected
	}

	p.typer.Stop()
	if d.IsEdit() {
		return p.edit(me, d, content)
	}
	return p.send(me, d.RecipientID, content)
}

func (p *Pipeline) send(me models.User, recipientID, content string) error {
	msg := models.Message{
		TempID:     p.opts.NewTempID(),
		Content:    content,
		SenderID:   me.ID,
		ReceiverID: recipientID,
		Timestamp:  p.opts.Now(),
		Status:     models.StatusPending,
	}
	if err := p.store.UpsertMessage(msg); err != nil {
		return err
	}
	p.store.SetDraft(store.NewDraft(recipientID))
	return p.emitSend(msg)
}

func (p *Pipeline) emitSend(msg models.Message) error {
	if err := p.transport.SendMessage(msg.Content, msg.ReceiverID, msg.TempID); err != nil {
		p.store.SetStatus(msg.TempID, models.StatusFailed)
		return errors.Wrap(err, "send message")
	}
	return nil
}

func (p *Pipeline) edit(me models.User, d store.Draft, content string) error {
	target, ok := p.store.Message(d.Intent.TargetID)
	if !ok {
		p.store.SetDraft(store.NewDraft(d.RecipientID))
		return ErrNotFound
	}
	if target.SenderID != me.ID {
		return ErrNotOwner
	}
	p.store.SetDraft(store.NewDraft(d.RecipientID))
	if content == target.Content {
		return nil
	}
	if err := p.transport.EditMessage(target.ID, content); err != nil {
		return errors.Wrap(err, "edit message")
	}
	return nil
}

// StartEdit replaces the draft with an edit of the own message id.
func (p *Pipeline) StartEdit(id string) {
	p.post(func() {
		me, ok := p.store.CurrentUser()
		if !ok {
			p.report(ErrSignedOut)
			return
		}
		msg, ok := p.store.Message(id)
		switch {
		case !ok:
			p.report(ErrNotFound)
		case msg.SenderID != me.ID || msg.IsDeleted:
			p.report(ErrNotOwner)
		default:
			p.typer.Stop()
			p.store.SetDraft(store.EditDraft(msg))
		}
	})
}

// CancelEdit drops an edit draft in favour of an empty new message.
func (p *Pipeline) CancelEdit() {
	p.post(func() {
		d, ok := p.store.Draft()
		if ok && d.IsEdit() {
			p.store.SetDraft(store.NewDraft(d.RecipientID))
		}
	})
}

// Delete asks the server to tombstone the own message id. The store changes
// when the server's message:deleted arrives.
func (p *Pipeline) Delete(id string) {
	p.post(func() { p.report(p.delete(id)) })
}

func (p *Pipeline) delete(id string) error {
	me, ok := p.store.CurrentUser()
	if !ok {
		return ErrSignedOut
	}
	msg, ok := p.store.Message(id)
	if !ok {
		return ErrNotFound
	}
	if msg.SenderID != me.ID {
		return ErrNotOwner
	}
	if msg.IsDeleted {
		return nil
	}
	if !p.store.Connected() {
		p.deleteOverHTTP(context.Background(), id)
		return nil
	}
	if err := p.transport.DeleteMessage(id); err != nil {
		return errors.Wrap(err, "delete message")
	}
	return nil
}

// deleteOverHTTP deletes through the HTTP API while the push channel is
// down. No message:deleted will reach this client, so the tombstone is
// applied once the server has accepted the request.
func (p *Pipeline) deleteOverHTTP(ctx context.Context, id string) {
	p.opts.Go(func() {
		err := p.api.DeleteMessage(ctx, id)
		p.post(func() {
			if err != nil {
				p.report(errors.Wrap(err, "delete message"))
				return
			}
			p.store.UpsertMessage(models.Message{ID: id, IsDeleted: true})
		})
	})
}

// Retry re-sends a failed message under its original tempId.
func (p *Pipeline) Retry(tempID string) {
	p.post(func() { p.report(p.retry(tempID)) })
}

func (p *Pipeline) retry(tempID string) error {
	if !p.store.Connected() {
		return ErrDisconnected
	}
	for _, m := range p.store.Messages() {
		if m.TempID != tempID || m.Persisted() {
			continue
		}
		if m.Status != models.StatusFailed {
			return nil
		}
		p.store.SetStatus(tempID, models.StatusPending)
		m.Status = models.StatusPending
		return p.emitSend(m)
	}
	return ErrNotFound
}

// Select opens the conversation with userID: typing toward the previous
// target stops, the first history page is requested and unread incoming
// messages are marked read.
func (p *Pipeline) Select(ctx context.Context, userID string) {
	p.post(func() {
		if userID == p.store.ActiveUser() {
			return
		}
		p.typer.Stop()
		p.store.SetActiveUser(userID)
		if userID == "" {
			p.store.ClearDraft()
			return
		}
		p.store.SetDraft(store.NewDraft(userID))
		p.loadHistory(ctx, userID)
		p.markRead(ctx, userID)
	})
}

// LoadHistory requests the next page of the conversation with counterpartID.
func (p *Pipeline) LoadHistory(ctx context.Context, counterpartID string) {
	p.post(func() { p.loadHistory(ctx, counterpartID) })
}

// RefreshDirectory fetches the user directory and merges it additively so
// presence learned from push events survives.
func (p *Pipeline) RefreshDirectory(ctx context.Context) {
	p.opts.Go(func() {
		users, err := p.api.Users(ctx)
		p.post(func() {
			if err != nil {
				p.report(errors.Wrap(err, "load users"))
				return
			}
			if added := p.store.MergeDirectory(users); added > 0 {
				p.log.Debug("directory merged", zap.Int("added", added))
			}
		})
	})
}

// RefreshUnread returns the server's count of unread incoming messages.
func (p *Pipeline) RefreshUnread(ctx context.Context) (int, error) {
	n, err := p.api.UnreadCount(ctx)
	if err != nil {
		p.authFailure(err)
		return 0, errors.Wrap(err, "unread count")
	}
	return n, nil
}

// UpdateProfile saves the profile and applies the result to the store.
func (p *Pipeline) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (models.User, error) {
	if err := upd.Validate(); err != nil {
		return models.User{}, err
	}
	u, err := p.api.UpdateProfile(ctx, upd)
	if err != nil {
		p.authFailure(err)
		return models.User{}, errors.Wrap(err, "update profile")
	}
	p.post(func() { p.store.UpdateUser(u) })
	return u, nil
}

// SignedIn records the user the session belongs to.
func (p *Pipeline) SignedIn(u models.User) {
	p.post(func() { p.store.SetCurrentUser(&u) })
}

// resolveStubs fetches the profiles of users known only by id, which an
// onlineUsers snapshot creates when it arrives before the directory.
func (p *Pipeline) resolveStubs(ctx context.Context) {
	for _, u := range p.store.Users() {
		if u.Username != "" || p.resolving[u.ID] {
			continue
		}
		id := u.ID
		p.resolving[id] = true
		p.opts.Go(func() {
			user, err := p.api.User(ctx, id)
			p.post(func() {
				delete(p.resolving, id)
				if err != nil {
					p.authFailure(err)
					p.log.Debug("user lookup failed", zap.String("user_id", id), zap.Error(err))
					return
				}
				p.store.UpdateUser(user)
			})
		})
	}
}

// Reset forgets all session state. Used on sign-out.
func (p *Pipeline) Reset() {
	p.post(func() {
		p.typer.Close()
		p.presence.Close()
		p.history.reset()
		p.resolving = make(map[string]bool)
		p.store.Reset()
	})
}

func (p *Pipeline) markRead(ctx context.Context, counterpartID string) {
	me, ok := p.store.CurrentUser()
	if !ok {
		return
	}
	var ids []string
	for _, m := range p.store.Conversation(counterpartID) {
		if m.Persisted() && m.ReceiverID == me.ID && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	p.opts.Go(func() {
		err := p.api.MarkRead(ctx, ids)
		p.post(func() {
			if err != nil {
				p.report(errors.Wrap(err, "mark read"))
				return
			}
			p.store.MarkRead(ids)
		})
	})
}

// report surfaces err to the user. Session loss additionally signs out.
func (p *Pipeline) report(err error) {
	if err == nil {
		return
	}
	if p.authFailure(err) {
		return
	}
	p.log.Info("operation failed", zap.Error(err))
	p.notifier.Notify(LevelError, errorText(err))
}

func (p *Pipeline) authFailure(err error) bool {
	if !errors.Is(err, api.ErrUnauthorized) {
		return false
	}
	p.mu.Lock()
	fn := p.onUnauthorized
	p.mu.Unlock()
	p.log.Warn("session rejected, signing out")
	p.notifier.Notify(LevelError, "Your session has expired. Please sign in again.")
	if fn != nil {
		fn()
	}
	return true
}

func errorText(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return err.Error()
}
