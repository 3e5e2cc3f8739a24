// Package auth orchestrates the login, logout and destroy lifecycle against
// the session store.
package auth

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatwidget/pkg/api"
	"github.com/go-go-golems/chatwidget/pkg/device"
	"github.com/go-go-golems/chatwidget/pkg/events"
	"github.com/go-go-golems/chatwidget/pkg/session"
)

// ErrLoginSuperseded is returned when a newer login started while this one
// was waiting on the backend. The superseded call must not touch state
// established by the newer one.
var ErrLoginSuperseded = errors.New("login superseded by a newer login")

// AuthAPI is the backend auth collaborator.
type AuthAPI interface {
	Login(ctx context.Context, req api.LoginRequest) (*api.LoginResponse, error)
}

// UserAPI pushes attribute updates during the login sequence.
type UserAPI interface {
	ImmediateUpdateUser(ctx context.Context, attrs map[string]any) (*session.User, error)
}

// BillingAPI is best-effort; its failures never fail a login.
type BillingAPI interface {
	GetBillingAccount(ctx context.Context) (*session.BillingAccount, error)
}

// ConversationSync is the slice of the conversation engine the manager
// drives.
type ConversationSync interface {
	FetchOrCreate(ctx context.Context) (session.Conversation, error)
	Connect(ctx context.Context, conv session.Conversation) error
	Disconnect()
}

// Config is the widget-level configuration handed to Init.
type Config struct {
	AppToken            string
	UserID              string
	JWT                 string
	Attributes          map[string]any
	EmailCaptureEnabled bool
	Embedded            bool
	CustomText          map[string]string
	ServiceURL          string
}

type ManagerConfig struct {
	Store        *session.Store
	Bus          *events.Bus
	Device       *device.Provider
	Auth         AuthAPI
	User         UserAPI
	Billing      BillingAPI // optional
	Conversation ConversationSync
	Renderer     Renderer // optional, defaults to NoopRenderer
	Env          Environment
	// Platform identifies the embedding platform in the device payload.
	// Defaults to "web".
	Platform string
	// Info is host-page context forwarded verbatim on login.
	Info api.DeviceMetadata
}

// Manager owns the auth lifecycle. A generation counter guards against stale
// responses from superseded logins overwriting newer state.
type Manager struct {
	store        *session.Store
	bus          *events.Bus
	device       *device.Provider
	auth         AuthAPI
	user         UserAPI
	billing      BillingAPI
	conversation ConversationSync
	renderer     Renderer
	env          Environment
	platform     string
	info         api.DeviceMetadata

	generation atomic.Uint64

	mu        sync.Mutex
	appToken  string
	container any
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth manager: store is nil")
	}
	if cfg.Bus == nil {
		return nil, errors.New("auth manager: bus is nil")
	}
	if cfg.Device == nil {
		return nil, errors.New("auth manager: device provider is nil")
	}
	if cfg.Auth == nil {
		return nil, errors.New("auth manager: auth api is nil")
	}
	if cfg.User == nil {
		return nil, errors.New("auth manager: user api is nil")
	}
	if cfg.Conversation == nil {
		return nil, errors.New("auth manager: conversation sync is nil")
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = NoopRenderer{}
	}
	platform := cfg.Platform
	if platform == "" {
		platform = "web"
	}
	return &Manager{
		store:        cfg.Store,
		bus:          cfg.Bus,
		device:       cfg.Device,
		auth:         cfg.Auth,
		user:         cfg.User,
		billing:      cfg.Billing,
		conversation: cfg.Conversation,
		renderer:     renderer,
		env:          cfg.Env,
		platform:     platform,
		info:         cfg.Info,
	}, nil
}

// Init applies configuration and runs the full login sequence. Known
// automated agents get the attribution link and no network activity;
// disallowed headless agents outside test mode get nothing at all.
func (m *Manager) Init(ctx context.Context, cfg Config) (*session.User, error) {
	if m == nil {
		return nil, errors.New("auth manager is not initialized")
	}
	if cfg.AppToken == "" {
		return nil, errors.New("auth manager: app token is required")
	}

	if m.env.IsAutomatedAgent {
		m.renderer.RenderLink()
		m.bus.Trigger(events.TopicReady, events.Payload{})
		return nil, nil
	}
	if m.env.IsHeadlessAgent && !m.env.IsTestMode {
		return nil, nil
	}

	m.mu.Lock()
	m.appToken = cfg.AppToken
	m.mu.Unlock()

	if cfg.EmailCaptureEnabled {
		m.store.EnableSettings()
	} else {
		m.store.DisableSettings()
	}
	m.store.SetEmbedded(cfg.Embedded)
	m.store.UpdateText(cfg.CustomText)
	if cfg.ServiceURL != "" {
		m.store.SetServerURL(cfg.ServiceURL)
	}

	return m.Login(ctx, Credentials{UserID: cfg.UserID, JWT: cfg.JWT, Attributes: cfg.Attributes})
}

// Login runs the strictly sequential login pipeline. Any earlier in-flight
// login is logically canceled: its responses are discarded once this one has
// bumped the generation.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*session.User, error) {
	if m == nil {
		return nil, errors.New("auth manager is not initialized")
	}
	gen := m.generation.Add(1)

	// 1. full reset, in case we come from a previous authenticated state
	m.store.ResetAuth()
	m.store.ResetUser()
	m.store.ResetConversation()
	m.conversation.Disconnect()

	// 2. unknown attribute keys are dropped silently
	attrs := FilterAttributes(creds.Attributes)

	// 3.
	if email, ok := attrs["email"].(string); ok && email != "" && m.store.App().SettingsEnabled {
		m.store.SetEmailReadonly(true)
	} else {
		m.store.SetEmailReadonly(false)
	}

	// 4.
	m.mu.Lock()
	appToken := m.appToken
	m.mu.Unlock()
	m.store.SetAuth(session.Auth{JWT: creds.JWT, AppToken: appToken})

	// 5. identity exchange; failure leaves state reset
	deviceID, err := m.device.GetOrCreateDeviceID()
	if err != nil {
		return nil, err
	}
	resp, err := m.auth.Login(ctx, api.LoginRequest{
		UserID: creds.UserID,
		Device: api.Device{Platform: m.platform, ID: deviceID, Info: m.info},
	})
	if err != nil {
		return nil, err
	}
	if m.superseded(gen) {
		return nil, ErrLoginSuperseded
	}

	// 6. store user; billing lookup is detached and best-effort
	m.store.SetUser(resp.AppUser)
	if len(resp.PublicKeys) > 0 {
		m.store.SetPublicKeys(resp.PublicKeys)
		if _, ok := resp.PublicKeys["stripe"]; ok && m.billing != nil {
			go m.fetchBillingAccount(gen)
		}
	}

	// 7. immediate attribute push, then conversation wiring
	updated, err := m.user.ImmediateUpdateUser(ctx, attrs)
	if err != nil {
		return nil, err
	}
	if m.superseded(gen) {
		return nil, ErrLoginSuperseded
	}
	m.store.RefreshUser(*updated)
	if updated.ConversationStarted {
		conv, err := m.conversation.FetchOrCreate(ctx)
		if err != nil {
			return nil, err
		}
		if m.superseded(gen) {
			return nil, ErrLoginSuperseded
		}
		if err := m.conversation.Connect(ctx, conv); err != nil {
			return nil, err
		}
	}

	if m.superseded(gen) {
		return nil, ErrLoginSuperseded
	}

	// 8.
	if !m.store.App().Embedded {
		m.mu.Lock()
		if m.container == nil {
			m.container = m.renderer.Render(nil)
		}
		m.mu.Unlock()
	}

	// 9.
	user := m.store.User()
	m.bus.Trigger(events.TopicReady, events.Payload{User: &user})
	log.Debug().Str("component", "auth").Str("user_id", user.ID).Msg("login sequence complete")
	return &user, nil
}

// Logout re-runs the full reset+login sequence anonymously.
func (m *Manager) Logout(ctx context.Context) (*session.User, error) {
	return m.Login(ctx, Anonymous())
}

// Destroy tears everything down, preserving only the embedded flag.
func (m *Manager) Destroy() {
	if m == nil {
		return
	}
	embedded := m.store.App().Embedded
	m.conversation.Disconnect()
	m.store.Reset()
	m.store.SetEmbedded(embedded)

	m.mu.Lock()
	container := m.container
	m.appToken = ""
	m.container = nil
	m.mu.Unlock()

	if container != nil {
		m.renderer.Unmount(container)
		if !embedded {
			m.renderer.Remove(container)
		}
	}
	m.bus.Trigger(events.TopicDestroy, events.Payload{})
}

// Render mounts the widget surface and remembers the container handle.
func (m *Manager) Render(container any) any {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.container = m.renderer.Render(container)
	return m.container
}

func (m *Manager) fetchBillingAccount(gen uint64) {
	account, err := m.billing.GetBillingAccount(context.Background())
	if err != nil {
		// best-effort: observed, never propagated
		log.Debug().Str("component", "auth").Err(err).Msg("billing account lookup failed")
		return
	}
	if m.superseded(gen) {
		return
	}
	m.store.SetStripeInfo(account)
}

func (m *Manager) superseded(gen uint64) bool {
	return m.generation.Load() != gen
}
