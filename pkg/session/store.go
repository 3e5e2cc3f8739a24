package session

import (
	"maps"
	"sync"
)

// Store is the single source of truth for auth, user, conversation and UI
// state. All writes go through named transition methods; reads return copies
// so callers never observe partial mutations.
type Store struct {
	mu   sync.RWMutex
	auth Auth
	user User
	conv Conversation
	seen map[string]struct{}
	app  AppState
}

func NewStore() *Store {
	return &Store{
		seen: map[string]struct{}{},
		app:  AppState{Text: map[string]string{}},
	}
}

// ---- auth ----

func (s *Store) SetAuth(a Auth) {
	s.mu.Lock()
	s.auth = a
	s.mu.Unlock()
}

func (s *Store) ResetAuth() {
	s.SetAuth(Auth{})
}

func (s *Store) Auth() Auth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auth
}

// ---- user ----

// SetUser replaces the user record wholesale. Used when a login response
// establishes a fresh user.
func (s *Store) SetUser(u User) {
	s.mu.Lock()
	s.user = copyUser(u)
	s.mu.Unlock()
}

// RefreshUser applies an updated user from the backend while preserving the
// public keys and billing info fetched earlier in the login sequence, which
// update responses do not carry.
func (s *Store) RefreshUser(u User) {
	s.mu.Lock()
	keys := s.user.PublicKeys
	stripe := s.user.StripeInfo
	s.user = copyUser(u)
	if s.user.PublicKeys == nil {
		s.user.PublicKeys = keys
	}
	if s.user.StripeInfo == nil {
		s.user.StripeInfo = stripe
	}
	s.mu.Unlock()
}

// MergeUserAttributes merges (not replaces) editable attributes into the
// current user.
func (s *Store) MergeUserAttributes(attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	s.mu.Lock()
	if s.user.Attributes == nil {
		s.user.Attributes = map[string]any{}
	}
	maps.Copy(s.user.Attributes, attrs)
	s.mu.Unlock()
}

func (s *Store) SetPublicKeys(keys map[string]string) {
	s.mu.Lock()
	s.user.PublicKeys = maps.Clone(keys)
	s.mu.Unlock()
}

func (s *Store) SetStripeInfo(account *BillingAccount) {
	s.mu.Lock()
	if account == nil {
		s.user.StripeInfo = nil
	} else {
		cp := *account
		s.user.StripeInfo = &cp
	}
	s.mu.Unlock()
}

func (s *Store) ResetUser() {
	s.mu.Lock()
	s.user = User{}
	s.mu.Unlock()
}

func (s *Store) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.user)
}

// ---- conversation ----

// SetConversation installs the conversation returned by the backend. When the
// id matches the current conversation, already-merged messages are kept and
// the incoming ones are folded in with the usual id dedup, so a refetch never
// drops locally observed messages.
func (s *Store) SetConversation(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID != s.conv.ID {
		if s.conv.ID == "" {
			// a local anonymous conversation adopts the server identity
			s.conv.ID = c.ID
		} else {
			s.conv = Conversation{ID: c.ID}
			s.seen = map[string]struct{}{}
		}
	}
	for _, m := range c.Messages {
		s.appendLocked(m)
	}
}

func (s *Store) ResetConversation() {
	s.mu.Lock()
	s.conv = Conversation{}
	s.seen = map[string]struct{}{}
	s.mu.Unlock()
}

// AppendMessage appends m unless its id has been seen before. It reports
// whether the message was actually appended.
func (s *Store) AppendMessage(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(m)
}

func (s *Store) appendLocked(m Message) bool {
	if m.ID == "" {
		return false
	}
	if _, ok := s.seen[m.ID]; ok {
		return false
	}
	s.seen[m.ID] = struct{}{}
	s.conv.Messages = append(s.conv.Messages, m)
	return true
}

func (s *Store) Conversation() Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Conversation{
		ID:       s.conv.ID,
		Messages: append([]Message(nil), s.conv.Messages...),
	}
}

// ---- app state ----

func (s *Store) SetEmbedded(embedded bool) {
	s.mu.Lock()
	s.app.Embedded = embedded
	s.mu.Unlock()
}

func (s *Store) EnableSettings() {
	s.mu.Lock()
	s.app.SettingsEnabled = true
	s.mu.Unlock()
}

func (s *Store) DisableSettings() {
	s.mu.Lock()
	s.app.SettingsEnabled = false
	s.mu.Unlock()
}

func (s *Store) SetEmailReadonly(readonly bool) {
	s.mu.Lock()
	s.app.EmailReadonly = readonly
	s.mu.Unlock()
}

func (s *Store) SetServerURL(url string) {
	s.mu.Lock()
	s.app.ServerURL = url
	s.mu.Unlock()
}

// UpdateText merges custom UI text overrides.
func (s *Store) UpdateText(text map[string]string) {
	if len(text) == 0 {
		return
	}
	s.mu.Lock()
	if s.app.Text == nil {
		s.app.Text = map[string]string{}
	}
	maps.Copy(s.app.Text, text)
	s.mu.Unlock()
}

func (s *Store) Open() {
	s.mu.Lock()
	s.app.Opened = true
	s.mu.Unlock()
}

func (s *Store) Close() {
	s.mu.Lock()
	s.app.Opened = false
	s.mu.Unlock()
}

func (s *Store) App() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app := s.app
	app.Text = maps.Clone(s.app.Text)
	return app
}

// Reset clears everything, app state included. Restoring the embedded flag
// across Destroy is the manager's responsibility.
func (s *Store) Reset() {
	s.mu.Lock()
	s.auth = Auth{}
	s.user = User{}
	s.conv = Conversation{}
	s.seen = map[string]struct{}{}
	s.app = AppState{Text: map[string]string{}}
	s.mu.Unlock()
}

func copyUser(u User) User {
	u.Attributes = maps.Clone(u.Attributes)
	u.PublicKeys = maps.Clone(u.PublicKeys)
	if u.StripeInfo != nil {
		cp := *u.StripeInfo
		u.StripeInfo = &cp
	}
	return u
}
