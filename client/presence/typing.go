package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTypingTimeout is how long the local user may pause before a
// typing-stop is sent.
const DefaultTypingTimeout = 2000 * time.Millisecond

// Emitter sends typing signals over the push channel.
type Emitter interface {
	StartTyping(recipientID string) error
	StopTyping(recipientID string) error
}

// Typer is the local Idle/Typing state machine. The first keystroke emits a
// typing-start, later keystrokes only push the inactivity deadline back, and
// the deadline passing emits a single typing-stop.
type Typer struct {
	emit    Emitter
	clock   Clock
	timeout time.Duration
	log     *zap.Logger

	mu     sync.Mutex
	target string
	typing bool
	timer  Timer
	gen    uint64
}

func NewTyper(emit Emitter, timeout time.Duration, clock Clock, log *zap.Logger) *Typer {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if clock == nil {
		clock = RealClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Typer{emit: emit, clock: clock, timeout: timeout, log: log.Named("typer")}
}

// Keystroke reports the draft content after a key press in the conversation
// with recipientID. Empty content counts as clearing the input.
func (t *Typer) Keystroke(recipientID, content string) {
	if recipientID == "" {
		return
	}
	if content == "" {
		t.Stop()
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.typing && t.target != recipientID {
		t.stopLocked()
	}
	if !t.typing {
		t.typing = true
		t.target = recipientID
		if err := t.emit.StartTyping(recipientID); err != nil {
			t.log.Debug("typing start not sent", zap.String("recipient_id", recipientID), zap.Error(err))
		}
	}
	t.armLocked()
}

// Stop ends typing now, e.g. on submit or when the input is cleared.
func (t *Typer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Close cancels the inactivity timer without emitting anything.
func (t *Typer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.typing = false
	t.target = ""
}

func (t *Typer) Typing() (recipientID string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target, t.typing
}

func (t *Typer) armLocked() {
	t.cancelLocked()
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(gen) })
}

func (t *Typer) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

func (t *Typer) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	t.timer = nil
	t.stopLocked()
}

func (t *Typer) stopLocked() {
	t.cancelLocked()
	if !t.typing {
		return
	}
	t.typing = false
	if err := t.emit.StopTyping(t.target); err != nil {
		t.log.Debug("typing stop not sent", zap.String("recipient_id", t.target), zap.Error(err))
	}
}
