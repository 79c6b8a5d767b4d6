package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"rtchat/client/store"
	"rtchat/protocol"
)

// Reconciler applies remote typing and online-list events to the store.
//
// Typing follows event arrival order. Each typing-start arms an expiry so a
// stop lost in transit does not leave a user typing forever; the expiry is
// handed to post so it runs on the same goroutine as every other store write.
type Reconciler struct {
	store  *store.Store
	clock  Clock
	expiry time.Duration
	log    *zap.Logger

	mu     sync.Mutex
	post   func(func())
	timers map[string]Timer
	gens   map[string]uint64
}

func NewReconciler(st *store.Store, expiry time.Duration, clock Clock, log *zap.Logger) *Reconciler {
	if clock == nil {
		clock = RealClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		store:  st,
		clock:  clock,
		expiry: expiry,
		log:    log.Named("presence"),
		post:   func(fn func()) { fn() },
		timers: make(map[string]Timer),
		gens:   make(map[string]uint64),
	}
}

// SetPoster routes expiry callbacks through post.
func (r *Reconciler) SetPoster(post func(func())) {
	r.mu.Lock()
	r.post = post
	r.mu.Unlock()
}

func (r *Reconciler) TypingStarted(userID string) {
	if userID == "" {
		return
	}
	r.store.SetTyping(userID, true)
	r.arm(userID)
}

func (r *Reconciler) TypingStopped(userID string) {
	if userID == "" {
		return
	}
	r.cancel(userID)
	r.store.SetTyping(userID, false)
}

// MessageArrived clears the sender's typing flag: the message it was typing
// has been sent.
func (r *Reconciler) MessageArrived(senderID string) {
	if senderID != "" && r.store.IsTyping(senderID) {
		r.TypingStopped(senderID)
	}
}

// Disconnected forgets all typing state; nothing further will arrive for it.
func (r *Reconciler) Disconnected() {
	r.Close()
	r.store.ClearTyping()
}

// ApplyOnlineList replaces every known user's online flag by membership in
// list. It is a snapshot, not a diff.
func (r *Reconciler) ApplyOnlineList(list []protocol.OnlineUser) {
	ids := protocol.OnlineIDs(list)
	r.log.Debug("online snapshot", zap.Int("online", len(ids)))
	r.store.ReplaceOnline(ids)
}

// Close stops every pending expiry.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
		r.gens[id]++
	}
}

func (r *Reconciler) arm(userID string) {
	if r.expiry <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[userID]; ok {
		t.Stop()
	}
	r.gens[userID]++
	gen := r.gens[userID]
	r.timers[userID] = r.clock.AfterFunc(r.expiry, func() {
		r.mu.Lock()
		post := r.post
		r.mu.Unlock()
		post(func() { r.expire(userID, gen) })
	})
}

func (r *Reconciler) cancel(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[userID]; ok {
		t.Stop()
		delete(r.timers, userID)
	}
	r.gens[userID]++
}

func (r *Reconciler) expire(userID string, gen uint64) {
	r.mu.Lock()
	if r.gens[userID] != gen {
		r.mu.Unlock()
		return
	}
	delete(r.timers, userID)
	r.mu.Unlock()

	r.log.Debug("typing expired", zap.String("user_id", userID))
	r.store.SetTyping(userID, false)
}
