package presence

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"rtchat/client/store"
	"rtchat/models"
	"rtchat/protocol"
)

// manualClock fires timers only when advanced.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (e *recordingEmitter) StartTyping(recipientID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "start:"+recipientID)
	return e.err
}

func (e *recordingEmitter) StopTyping(recipientID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "stop:"+recipientID)
	return e.err
}

func (e *recordingEmitter) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func count(events []string, want string) int {
	n := 0
	for _, e := range events {
		if e == want {
			n++
		}
	}
	return n
}

func TestTyperDebounce(t *testing.T) {
	clock := &manualClock{}
	emit := &recordingEmitter{}
	typer := NewTyper(emit, 2000*time.Millisecond, clock, nil)

	typer.Keystroke("u2", "h")
	clock.Advance(200 * time.Millisecond)
	typer.Keystroke("u2", "he")
	clock.Advance(200 * time.Millisecond)
	typer.Keystroke("u2", "hey")

	if got := count(emit.Events(), "start:u2"); got != 1 {
		t.Fatalf("Expected exactly one typing start, got %d (%v)", got, emit.Events())
	}

	// Each keystroke pushed the deadline back: 1999ms after the last one
	// nothing has fired yet.
	clock.Advance(1999 * time.Millisecond)
	if got := count(emit.Events(), "stop:u2"); got != 0 {
		t.Fatalf("Typing stop fired early: %v", emit.Events())
	}

	clock.Advance(1 * time.Millisecond)
	if got := count(emit.Events(), "stop:u2"); got != 1 {
		t.Fatalf("Expected exactly one typing stop, got %d (%v)", got, emit.Events())
	}

	clock.Advance(10 * time.Second)
	if got := len(emit.Events()); got != 2 {
		t.Errorf("Expected no further signals, got %v", emit.Events())
	}
	if _, typing := typer.Typing(); typing {
		t.Error("Typer should be idle")
	}
}

func TestTyperRestartsAfterIdle(t *testing.T) {
	clock := &manualClock{}
	emit := &recordingEmitter{}
	typer := NewTyper(emit, time.Second, clock, nil)

	typer.Keystroke("u2", "a")
	clock.Advance(time.Second)
	typer.Keystroke("u2", "ab")

	want := []string{"start:u2", "stop:u2", "start:u2"}
	got := emit.Events()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestTyperStopOnSubmitAndClear(t *testing.T) {
	clock := &manualClock{}
	emit := &recordingEmitter{}
	typer := NewTyper(emit, time.Second, clock, nil)

	typer.Keystroke("u2", "a")
	typer.Stop()
	clock.Advance(5 * time.Second)
	if got := count(emit.Events(), "stop:u2"); got != 1 {
		t.Errorf("Expected one stop after submit, got %v", emit.Events())
	}

	typer.Keystroke("u2", "b")
	typer.Keystroke("u2", "")
	clock.Advance(5 * time.Second)
	if got := count(emit.Events(), "stop:u2"); got != 2 {
		t.Errorf("Clearing input should stop typing once, got %v", emit.Events())
	}

	// Stop while idle is silent.
	typer.Stop()
	if got := len(emit.Events()); got != 4 {
		t.Errorf("Unexpected extra events %v", emit.Events())
	}
}

func TestTyperSwitchRecipient(t *testing.T) {
	clock := &manualClock{}
	emit := &recordingEmitter{}
	typer := NewTyper(emit, time.Second, clock, nil)

	typer.Keystroke("u2", "a")
	typer.Keystroke("u3", "a")

	got := emit.Events()
	want := []string{"start:u2", "stop:u2", "start:u3"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("Expected %v, got %v", want, got)
	}

	clock.Advance(time.Second)
	if count(emit.Events(), "stop:u3") != 1 || count(emit.Events(), "stop:u2") != 1 {
		t.Errorf("Unexpected events %v", emit.Events())
	}
}

func TestTyperCloseCancelsTimer(t *testing.T) {
	clock := &manualClock{}
	emit := &recordingEmitter{}
	typer := NewTyper(emit, time.Second, clock, nil)

	typer.Keystroke("u2", "a")
	typer.Close()
	clock.Advance(5 * time.Second)

	if got := emit.Events(); len(got) != 1 {
		t.Errorf("Closed typer must not fire, got %v", got)
	}
}

func TestTyperEmitErrorsDoNotBreakState(t *testing.T) {
	clock := &manualClock{}
	emit := &recordingEmitter{err: errors.New("not connected")}
	typer := NewTyper(emit, time.Second, clock, nil)

	typer.Keystroke("u2", "a")
	if _, typing := typer.Typing(); !typing {
		t.Error("Typer should still track local typing state")
	}
	clock.Advance(time.Second)
	if _, typing := typer.Typing(); typing {
		t.Error("Typer should be idle after timeout")
	}
}

func newReconciler(t *testing.T, expiry time.Duration) (*Reconciler, *store.Store, *manualClock) {
	t.Helper()
	st := store.New(nil)
	st.SetCurrentUser(&models.User{ID: "u1"})
	clock := &manualClock{}
	return NewReconciler(st, expiry, clock, nil), st, clock
}

func TestReconcilerTypingLastWriterWins(t *testing.T) {
	r, st, _ := newReconciler(t, 0)

	r.TypingStarted("u2")
	if !st.IsTyping("u2") {
		t.Fatal("Expected u2 typing")
	}
	r.TypingStopped("u2")
	r.TypingStarted("u2")
	if !st.IsTyping("u2") {
		t.Error("Reversed stop/start should leave the user typing")
	}
}

func TestReconcilerMessageClearsTyping(t *testing.T) {
	r, st, _ := newReconciler(t, 0)
	r.TypingStarted("u2")
	r.MessageArrived("u2")
	if st.IsTyping("u2") {
		t.Error("A message from the user should clear typing")
	}
}

func TestReconcilerExpiry(t *testing.T) {
	r, st, clock := newReconciler(t, 10*time.Second)

	var posted int
	r.SetPoster(func(fn func()) {
		posted++
		fn()
	})

	r.TypingStarted("u2")
	clock.Advance(9 * time.Second)
	r.TypingStarted("u2")
	clock.Advance(9 * time.Second)
	if !st.IsTyping("u2") {
		t.Fatal("Refreshed typing should not expire yet")
	}

	clock.Advance(time.Second)
	if st.IsTyping("u2") {
		t.Error("Expected typing to expire")
	}
	if posted != 1 {
		t.Errorf("Expected expiry to go through the poster once, got %d", posted)
	}
}

func TestReconcilerStaleExpiryIgnored(t *testing.T) {
	r, st, clock := newReconciler(t, time.Second)

	var queued []func()
	r.SetPoster(func(fn func()) { queued = append(queued, fn) })

	r.TypingStarted("u2")
	clock.Advance(time.Second)
	// The expiry is queued but a new start arrives before it runs.
	r.TypingStarted("u2")
	for _, fn := range queued {
		fn()
	}
	if !st.IsTyping("u2") {
		t.Error("Stale expiry must not clear a newer typing start")
	}
}

func TestReconcilerDisconnectedClearsTyping(t *testing.T) {
	r, st, clock := newReconciler(t, time.Second)
	r.TypingStarted("u2")
	r.TypingStarted("u3")
	r.Disconnected()

	if len(st.TypingUsers()) != 0 {
		t.Errorf("Expected no typing users, got %v", st.TypingUsers())
	}
	clock.Advance(5 * time.Second)
}

func TestApplyOnlineListSnapshot(t *testing.T) {
	r, st, _ := newReconciler(t, 0)
	st.SetUsers([]models.User{{ID: "u2"}, {ID: "u3"}})

	r.ApplyOnlineList([]protocol.OnlineUser{{UserID: "u2"}, {UserID: "u3"}})
	r.ApplyOnlineList([]protocol.OnlineUser{{UserID: "u3"}})

	u2, _ := st.User("u2")
	u3, _ := st.User("u3")
	if u2.IsOnline {
		t.Error("u2 missing from snapshot must be offline")
	}
	if !u3.IsOnline {
		t.Error("u3 should be online")
	}
}
