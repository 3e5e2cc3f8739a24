// Package widget is the embeddable chat widget facade. It composes the
// device identity provider, session store, auth manager, conversation sync
// engine and event bus behind the public SDK surface.
package widget

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatwidget/pkg/api"
	"github.com/go-go-golems/chatwidget/pkg/auth"
	"github.com/go-go-golems/chatwidget/pkg/conversation"
	"github.com/go-go-golems/chatwidget/pkg/device"
	"github.com/go-go-golems/chatwidget/pkg/events"
	"github.com/go-go-golems/chatwidget/pkg/session"
	"github.com/go-go-golems/chatwidget/pkg/stream"
)

// Version is reported to the backend as sdkVersion.
const Version = "0.4.0"

const defaultServiceURL = "https://api.chatwidget.io"

// Config configures a widget instance. Only AppToken is required; every
// collaborator has a working default.
type Config struct {
	AppToken            string
	UserID              string
	JWT                 string
	Attributes          map[string]any
	EmailCaptureEnabled bool
	Embedded            bool
	CustomText          map[string]string
	ServiceURL          string

	// Storage persists the device identity. Defaults to in-memory.
	Storage device.Storage
	// Backend is the push transport. Defaults to the in-process backend.
	Backend stream.Backend
	// BackendOwned makes Destroy close the backend. Set automatically for
	// the default backend.
	BackendOwned bool
	Renderer     auth.Renderer
	Env          auth.Environment
	// Platform overrides the device platform sent on login ("web" by
	// default; embedding hosts on other platforms set their own).
	Platform   string
	Info       api.DeviceMetadata
	HTTPClient *http.Client
}

// Widget is the public SDK surface.
type Widget struct {
	store        *session.Store
	bus          *events.Bus
	client       *api.Client
	manager      *auth.Manager
	conversation *conversation.Service
	backend      stream.Backend
	backendOwned bool
	initCfg      auth.Config
}

func New(cfg Config) (*Widget, error) {
	if cfg.AppToken == "" {
		return nil, errors.New("widget: app token is required")
	}

	store := session.NewStore()
	bus := events.NewBus()

	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = defaultServiceURL
	}
	client, err := api.NewClient(api.Config{
		BaseURL:     serviceURL,
		TokenSource: store.Auth,
		HTTPClient:  cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	storage := cfg.Storage
	if storage == nil {
		storage = device.NewMemoryStorage()
	}
	provider, err := device.NewProvider(storage)
	if err != nil {
		return nil, err
	}

	backend := cfg.Backend
	backendOwned := cfg.BackendOwned
	if backend == nil {
		backend = stream.NewMemoryBackend()
		backendOwned = true
	}

	convSvc, err := conversation.NewService(conversation.ServiceConfig{
		Store:   store,
		Bus:     bus,
		API:     client,
		Backend: backend,
	})
	if err != nil {
		return nil, err
	}

	info := cfg.Info
	if info.SDKVersion == "" {
		info.SDKVersion = Version
	}
	manager, err := auth.NewManager(auth.ManagerConfig{
		Store:        store,
		Bus:          bus,
		Device:       provider,
		Auth:         client,
		User:         client,
		Billing:      client,
		Conversation: convSvc,
		Renderer:     cfg.Renderer,
		Env:          cfg.Env,
		Platform:     cfg.Platform,
		Info:         info,
	})
	if err != nil {
		return nil, err
	}

	return &Widget{
		store:        store,
		bus:          bus,
		client:       client,
		manager:      manager,
		conversation: convSvc,
		backend:      backend,
		backendOwned: backendOwned,
		initCfg: auth.Config{
			AppToken:            cfg.AppToken,
			UserID:              cfg.UserID,
			JWT:                 cfg.JWT,
			Attributes:          cfg.Attributes,
			EmailCaptureEnabled: cfg.EmailCaptureEnabled,
			Embedded:            cfg.Embedded,
			CustomText:          cfg.CustomText,
			ServiceURL:          cfg.ServiceURL,
		},
	}, nil
}

// Init runs the full login sequence with the configured identity.
func (w *Widget) Init(ctx context.Context) (*session.User, error) {
	if w == nil {
		return nil, errors.New("widget is not initialized")
	}
	return w.manager.Init(ctx, w.initCfg)
}

// Login switches to the given identity, fully resetting any previous
// session first.
func (w *Widget) Login(ctx context.Context, creds auth.Credentials) (*session.User, error) {
	if w == nil {
		return nil, errors.New("widget is not initialized")
	}
	return w.manager.Login(ctx, creds)
}

// Logout switches to an anonymous session.
func (w *Widget) Logout(ctx context.Context) (*session.User, error) {
	if w == nil {
		return nil, errors.New("widget is not initialized")
	}
	return w.manager.Logout(ctx)
}

// Track records a named analytics event for the current user.
func (w *Widget) Track(ctx context.Context, name string, props map[string]any) error {
	if w == nil {
		return errors.New("widget is not initialized")
	}
	return w.client.TrackEvent(ctx, name, props)
}

// SendMessage posts a message into the conversation.
func (w *Widget) SendMessage(ctx context.Context, text string) (*session.Message, error) {
	if w == nil {
		return nil, errors.New("widget is not initialized")
	}
	return w.conversation.SendMessage(ctx, text)
}

// UpdateUser pushes editable attributes and re-synchronizes the
// conversation when the update indicates one now exists.
func (w *Widget) UpdateUser(ctx context.Context, attrs map[string]any) (*session.User, error) {
	if w == nil {
		return nil, errors.New("widget is not initialized")
	}
	updated, err := w.client.UpdateUser(ctx, auth.FilterAttributes(attrs))
	if err != nil {
		return nil, err
	}
	w.store.RefreshUser(*updated)
	if updated.ConversationStarted {
		if err := w.conversation.HandleConversationUpdated(ctx); err != nil {
			return nil, err
		}
	}
	user := w.store.User()
	return &user, nil
}

// Destroy tears the widget down. Only the embedded flag survives.
func (w *Widget) Destroy() {
	if w == nil {
		return
	}
	w.manager.Destroy()
	if w.backendOwned {
		_ = w.backend.Close()
	}
}

// Open shows the widget. Embedded widgets are controlled by the host and
// ignore programmatic visibility changes.
func (w *Widget) Open() {
	if w == nil || w.store.App().Embedded {
		return
	}
	w.store.Open()
}

// Close hides the widget; no-op when embedded.
func (w *Widget) Close() {
	if w == nil || w.store.App().Embedded {
		return
	}
	w.store.Close()
}

// On subscribes a handler on the event bus.
func (w *Widget) On(topic events.Topic, h events.Handler) events.Subscription {
	if w == nil {
		return events.Subscription{}
	}
	return w.bus.On(topic, h)
}

// Off removes a subscription.
func (w *Widget) Off(sub events.Subscription) {
	if w == nil {
		return
	}
	w.bus.Off(sub)
}

// Render mounts the widget surface into container.
func (w *Widget) Render(container any) any {
	if w == nil {
		return nil
	}
	return w.manager.Render(container)
}

// User returns a copy of the current user state.
func (w *Widget) User() session.User {
	if w == nil {
		return session.User{}
	}
	return w.store.User()
}

// Conversation returns a copy of the current conversation state.
func (w *Widget) Conversation() session.Conversation {
	if w == nil {
		return session.Conversation{}
	}
	return w.store.Conversation()
}
