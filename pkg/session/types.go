package session

import "time"

// Author roles for conversation messages.
const (
	RoleUser  = "appUser"
	RoleAgent = "appMaker"
)

// Auth holds the credentials for the currently active session. Exactly one
// Auth is active at a time; it is reset before every new login attempt.
type Auth struct {
	JWT      string
	AppToken string
}

// BillingAccount is the summary returned by the billing collaborator when a
// Stripe-compatible public key is configured.
type BillingAccount struct {
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	CardBrand string `json:"cardBrand,omitempty"`
	CardLast4 string `json:"cardLast4,omitempty"`
}

// User is the backend's view of the authenticated (or anonymous) app user.
type User struct {
	ID                  string            `json:"id"`
	Attributes          map[string]any    `json:"attributes,omitempty"`
	ConversationStarted bool              `json:"conversationStarted"`
	PublicKeys          map[string]string `json:"-"`
	StripeInfo          *BillingAccount   `json:"-"`
}

// Message is a single conversation entry. Messages are append-only and
// deduplicated by ID.
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Role       string    `json:"role"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Conversation holds the ordered message sequence for the user's single
// conversation. It exists only once User.ConversationStarted is true.
type Conversation struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages,omitempty"`
}

// AppState holds UI/meta flags independent of auth. Embedded survives
// Destroy; everything else is cleared.
type AppState struct {
	Embedded        bool
	SettingsEnabled bool
	EmailReadonly   bool
	Opened          bool
	ServerURL       string
	Text            map[string]string
}
