package reconcile

type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// Notifier shows transient messages to the user.
type Notifier interface {
	Notify(level Level, text string)
}

type NotifierFunc func(level Level, text string)

func (f NotifierFunc) Notify(level Level, text string) {
	f(level, text)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Level, string) {}
