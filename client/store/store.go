package store

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"rtchat/models"
)

var ErrUnreconcilable = errors.New("message has neither id nor tempId")

// Store is the client's single source of truth for users, messages, the
// active conversation, typing flags, connection status and the draft.
// Every operation is atomic with respect to the others.
type Store struct {
	log *zap.Logger

	mu           sync.RWMutex
	currentUser  *models.User
	users        []models.User
	messages     []models.Message
	activeUserID string
	typing       []string
	connected    bool
	draft        *Draft

	listenersMu sync.Mutex
	listeners   []func()
}

func New(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{log: log.Named("store")}
}

// Subscribe registers fn to be called after every mutation.
func (s *Store) Subscribe(fn func()) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *Store) notify() {
	s.listenersMu.Lock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (s *Store) SetCurrentUser(u *models.User) {
	s.mu.Lock()
	if u == nil {
		s.currentUser = nil
	} else {
		cp := *u
		s.currentUser = &cp
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) CurrentUser() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentUser == nil {
		return models.User{}, false
	}
	return *s.currentUser, true
}

// SetUsers replaces the directory wholesale.
func (s *Store) SetUsers(list []models.User) {
	s.mu.Lock()
	s.users = dedupeUsers(list)
	s.mu.Unlock()
	s.notify()
}

// MergeDirectory adds users not seen before, offline by default. Known users
// keep their current record so live presence is not lost.
func (s *Store) MergeDirectory(list []models.User) int {
	s.mu.Lock()
	added := 0
	for _, u := range list {
		if u.ID == "" || s.userIndex(u.ID) >= 0 {
			continue
		}
		u.IsOnline = false
		s.users = append(s.users, u)
		added++
	}
	s.mu.Unlock()
	if added > 0 {
		s.notify()
	}
	return added
}

// ReplaceOnline sets IsOnline on every known user by membership in ids. Ids
// not yet in the directory are added as stubs.
func (s *Store) ReplaceOnline(ids []string) {
	online := make(map[string]bool, len(ids))
	for _, id := range ids {
		online[id] = true
	}

	s.mu.Lock()
	for i := range s.users {
		s.users[i].IsOnline = online[s.users[i].ID]
		delete(online, s.users[i].ID)
	}
	for _, id := range ids {
		if online[id] {
			s.users = append(s.users, models.User{ID: id, IsOnline: true})
			delete(online, id)
		}
	}
	s.mu.Unlock()
	s.notify()
}

// UpdateUser replaces the record of a known user, e.g. after a profile edit.
func (s *Store) UpdateUser(u models.User) {
	s.mu.Lock()
	if i := s.userIndex(u.ID); i >= 0 {
		u.IsOnline = s.users[i].IsOnline
		s.users[i] = u
	}
	if s.currentUser != nil && s.currentUser.ID == u.ID {
		cp := u
		s.currentUser = &cp
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Users() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, len(s.users))
	copy(out, s.users)
	return out
}

func (s *Store) User(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.userIndex(id); i >= 0 {
		return s.users[i], true
	}
	return models.User{}, false
}

func (s *Store) userIndex(id string) int {
	for i := range s.users {
		if s.users[i].ID == id {
			return i
		}
	}
	return -1
}

// UpsertMessage merges incoming into the message set. A stored message is
// matched by id, then by tempId, and updated in place; otherwise incoming is
// appended. This one path serves create, confirmation, edit and delete.
func (s *Store) UpsertMessage(incoming models.Message) error {
	if incoming.ID == "" && incoming.TempID == "" {
		s.log.Warn("dropping unreconcilable message",
			zap.String("sender_id", incoming.SenderID),
			zap.String("receiver_id", incoming.ReceiverID))
		return ErrUnreconcilable
	}

	s.mu.Lock()
	s.upsertLocked(incoming)
	s.mu.Unlock()
	s.notify()
	return nil
}

// MergeMessages upserts every reconcilable message of list and returns how
// many were applied. It never removes anything.
func (s *Store) MergeMessages(list []models.Message) int {
	applied := 0
	s.mu.Lock()
	for _, m := range list {
		if m.ID == "" && m.TempID == "" {
			s.log.Warn("dropping unreconcilable message from batch", zap.String("sender_id", m.SenderID))
			continue
		}
		s.upsertLocked(m)
		applied++
	}
	s.mu.Unlock()
	if applied > 0 {
		s.notify()
	}
	return applied
}

func (s *Store) upsertLocked(incoming models.Message) {
	i := s.matchLocked(incoming)
	if i < 0 {
		s.messages = append(s.messages, incoming)
		return
	}
	s.messages[i] = merge(s.messages[i], incoming)

	// A history page can deliver the confirmed copy before the echo that
	// carries the tempId. The echo then matches that copy by id, and the
	// provisional entry is folded into it at the provisional position.
	if incoming.ID == "" || incoming.TempID == "" {
		return
	}
	if j := s.provisionalLocked(incoming.TempID, i); j >= 0 {
		s.messages[j] = merge(s.messages[j], s.messages[i])
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
	}
}

// provisionalLocked finds the unconfirmed entry holding tempID, ignoring
// index skip.
func (s *Store) provisionalLocked(tempID string, skip int) int {
	for j := range s.messages {
		if j != skip && s.messages[j].ID == "" && s.messages[j].TempID == tempID {
			return j
		}
	}
	return -1
}

func (s *Store) matchLocked(incoming models.Message) int {
	if incoming.ID != "" {
		for i := range s.messages {
			if s.messages[i].ID == incoming.ID {
				return i
			}
		}
	}
	if incoming.TempID != "" {
		for i := range s.messages {
			if s.messages[i].TempID == incoming.TempID {
				return i
			}
		}
	}
	return -1
}

// merge applies incoming over stored. Incoming wins for every field it
// carries; read and deleted flags never revert.
func merge(stored, incoming models.Message) models.Message {
	out := stored
	if incoming.ID != "" {
		out.ID = incoming.ID
	}
	if incoming.TempID != "" {
		out.TempID = incoming.TempID
	}
	if incoming.Content != "" {
		out.Content = incoming.Content
	}
	if incoming.SenderID != "" {
		out.SenderID = incoming.SenderID
	}
	if incoming.ReceiverID != "" {
		out.ReceiverID = incoming.ReceiverID
	}
	if !incoming.Timestamp.IsZero() {
		out.Timestamp = incoming.Timestamp
	}
	out.IsRead = stored.IsRead || incoming.IsRead
	out.IsDeleted = stored.IsDeleted || incoming.IsDeleted
	switch {
	case incoming.Status != "":
		out.Status = incoming.Status
	case out.ID != "":
		out.Status = models.StatusSent
	}
	return out
}

// ReplaceAll sets the message set wholesale. Callers must not use it while
// push traffic may have been merged since the data was requested.
func (s *Store) ReplaceAll(list []models.Message) {
	s.mu.Lock()
	s.messages = make([]models.Message, len(list))
	copy(s.messages, list)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Message looks a message up by server id.
func (s *Store) Message(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id && id != "" {
			return m, true
		}
	}
	return models.Message{}, false
}

// PendingMatch returns the newest unconfirmed own message accepted by match.
func (s *Store) PendingMatch(match func(models.Message) bool) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.ID == "" && m.TempID != "" && match(m) {
			return m, true
		}
	}
	return models.Message{}, false
}

// SetActiveUser selects the conversation. Messages and typing state of other
// users are untouched.
func (s *Store) SetActiveUser(id string) {
	s.mu.Lock()
	s.activeUserID = id
	s.mu.Unlock()
	s.notify()
}

func (s *Store) ActiveUser() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeUserID
}

// ActiveConversation returns the messages between the current user and the
// active user ordered by timestamp, ties kept in insertion order.
func (s *Store) ActiveConversation() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentUser == nil || s.activeUserID == "" {
		return nil
	}
	return conversation(s.messages, s.currentUser.ID, s.activeUserID)
}

// Conversation is ActiveConversation for an arbitrary counterpart.
func (s *Store) Conversation(counterpartID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentUser == nil || counterpartID == "" {
		return nil
	}
	return conversation(s.messages, s.currentUser.ID, counterpartID)
}

func conversation(all []models.Message, me, other string) []models.Message {
	var out []models.Message
	for _, m := range all {
		if m.Between(me, other) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// SetTyping adds or removes userID from the typing set. A repeated start
// moves the id to the end.
func (s *Store) SetTyping(userID string, isTyping bool) {
	s.mu.Lock()
	filtered := s.typing[:0]
	for _, id := range s.typing {
		if id != userID {
			filtered = append(filtered, id)
		}
	}
	s.typing = filtered
	if isTyping {
		s.typing = append(s.typing, userID)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) ClearTyping() {
	s.mu.Lock()
	s.typing = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) TypingUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.typing))
	copy(out, s.typing)
	return out
}

func (s *Store) IsTyping(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.typing {
		if id == userID {
			return true
		}
	}
	return false
}

// SetConnection records transport connectivity for UI gating only.
func (s *Store) SetConnection(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Store) SetDraft(d Draft) {
	s.mu.Lock()
	s.draft = &d
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Draft() (Draft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draft == nil {
		return Draft{}, false
	}
	return *s.draft, true
}

func (s *Store) ClearDraft() {
	s.mu.Lock()
	s.draft = nil
	s.mu.Unlock()
	s.notify()
}

// Reset drops all session state, used on sign-out.
func (s *Store) Reset() {
	s.mu.Lock()
	s.currentUser = nil
	s.users = nil
	s.messages = nil
	s.activeUserID = ""
	s.typing = nil
	s.connected = false
	s.draft = nil
	s.mu.Unlock()
	s.notify()
}

func dedupeUsers(list []models.User) []models.User {
	out := make([]models.User, 0, len(list))
	seen := make(map[string]int, len(list))
	for _, u := range list {
		if i, ok := seen[u.ID]; ok {
			out[i] = u
			continue
		}
		seen[u.ID] = len(out)
		out = append(out, u)
	}
	return out
}

// SetStatus changes the delivery state of the unconfirmed message tempID.
// It reports false when no such message exists.
func (s *Store) SetStatus(tempID, status string) bool {
	if tempID == "" {
		return false
	}
	s.mu.Lock()
	found := false
	for i := range s.messages {
		if s.messages[i].TempID == tempID && s.messages[i].ID == "" {
			s.messages[i].Status = status
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.notify()
	}
	return found
}

// MarkRead flags the stored messages ids as read and returns how many were
// found. Unknown ids are ignored.
func (s *Store) MarkRead(ids []string) int {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	s.mu.Lock()
	n := 0
	for i := range s.messages {
		if want[s.messages[i].ID] && s.messages[i].ID != "" {
			s.messages[i].IsRead = true
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.notify()
	}
	return n
}
