package api

import "github.com/go-go-golems/chatwidget/pkg/session"

// Device describes the device establishing the session.
type Device struct {
	Platform string         `json:"platform"`
	ID       string         `json:"id"`
	Info     DeviceMetadata `json:"info"`
}

// DeviceMetadata carries host-environment context for the login call. The
// embedding host fills in what it knows; empty fields are omitted.
type DeviceMetadata struct {
	SDKVersion      string `json:"sdkVersion,omitempty"`
	URL             string `json:"URL,omitempty"`
	UserAgent       string `json:"userAgent,omitempty"`
	Referrer        string `json:"referrer,omitempty"`
	BrowserLanguage string `json:"browserLanguage,omitempty"`
	CurrentURL      string `json:"currentUrl,omitempty"`
	CurrentTitle    string `json:"currentTitle,omitempty"`
}

type LoginRequest struct {
	UserID string `json:"userId,omitempty"`
	Device Device `json:"device"`
}

type LoginResponse struct {
	AppUser    session.User      `json:"appUser"`
	PublicKeys map[string]string `json:"publicKeys,omitempty"`
}

type UserResponse struct {
	AppUser session.User `json:"appUser"`
}

type ConversationResponse struct {
	Conversation session.Conversation `json:"conversation"`
}

type MessageResponse struct {
	Message session.Message `json:"message"`
}

type BillingResponse struct {
	Account session.BillingAccount `json:"account"`
}

type trackEventRequest struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

type updateUserRequest struct {
	Attributes map[string]any `json:"attributes"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
	Role string `json:"role"`
}
