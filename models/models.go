package models

import "time"

type User struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Avatar   string     `json:"avatar,omitempty"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// DisplayName returns the username, falling back to the id for stubs created
// from presence events.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

// Delivery state of a message on the client. Never sent over the wire.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

type Message struct {
	ID         string    `json:"id"`
	TempID     string    `json:"tempId,omitempty"`
	Content    string    `json:"content"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Timestamp  time.Time `json:"timestamp"`
	IsRead     bool      `json:"isRead"`
	IsDeleted  bool      `json:"isDeleted"`
	Status     string    `json:"-"`
}

// Persisted reports whether the server has assigned the message an id.
func (m Message) Persisted() bool {
	return m.ID != ""
}

// Between reports whether the message belongs to the conversation of a and b,
// in either direction.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// DisplayText is what a viewer sees for the message. Tombstones never show
// their content.
func (m Message) DisplayText(viewerID string) string {
	if m.IsDeleted {
		if m.SenderID == viewerID {
			return "You deleted this message"
		}
		return "This message was deleted"
	}
	return m.Content
}

// Page is one cursor-paginated slice of conversation history.
type Page struct {
	Data        []Message `json:"data"`
	NextCursor  *string   `json:"nextCursor"`
	HasNextPage bool      `json:"hasNextPage"`
}

// Cursor returns the next cursor or "" when there is none.
func (p Page) Cursor() string {
	if p.NextCursor == nil {
		return ""
	}
	return *p.NextCursor
}

// AuthResponse is returned by login and registration.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Registration struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ProfileUpdate carries the editable profile fields. Empty fields are left
// unchanged.
type ProfileUpdate struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type UnreadCount struct {
	Count int `json:"count"`
}
