package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatwidget/pkg/api"
	"github.com/go-go-golems/chatwidget/pkg/device"
	"github.com/go-go-golems/chatwidget/pkg/events"
	"github.com/go-go-golems/chatwidget/pkg/session"
)

type fakeAuthAPI struct {
	mu      sync.Mutex
	resp    *api.LoginResponse
	err     error
	calls   int
	lastReq api.LoginRequest
	// when set, Login blocks until the channel is closed
	block chan struct{}
}

func (f *fakeAuthAPI) Login(_ context.Context, req api.LoginRequest) (*api.LoginResponse, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	block := f.block
	f.block = nil
	resp, err := f.resp, f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	out := *resp
	return &out, nil
}

type fakeUserAPI struct {
	mu        sync.Mutex
	user      session.User
	err       error
	lastAttrs map[string]any
}

func (f *fakeUserAPI) ImmediateUpdateUser(_ context.Context, attrs map[string]any) (*session.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.lastAttrs = attrs
	u := f.user
	if u.Attributes == nil {
		u.Attributes = map[string]any{}
	}
	for k, v := range attrs {
		u.Attributes[k] = v
	}
	return &u, nil
}

type fakeBillingAPI struct {
	account *session.BillingAccount
	err     error
}

func (f *fakeBillingAPI) GetBillingAccount(context.Context) (*session.BillingAccount, error) {
	return f.account, f.err
}

type fakeConvSync struct {
	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	connectErr  error
}

func (f *fakeConvSync) FetchOrCreate(context.Context) (session.Conversation, error) {
	return session.Conversation{ID: "c1"}, nil
}

func (f *fakeConvSync) Connect(context.Context, session.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects++
	f.connected = true
	return nil
}

func (f *fakeConvSync) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.connected = false
	f.mu.Unlock()
}

type fakeRenderer struct {
	mu       sync.Mutex
	rendered int
	unmounts int
	removes  int
	links    int
}

func (f *fakeRenderer) Render(container any) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rendered++
	if container != nil {
		return container
	}
	return &struct{}{}
}

func (f *fakeRenderer) Unmount(any) {
	f.mu.Lock()
	f.unmounts++
	f.mu.Unlock()
}

func (f *fakeRenderer) Remove(any) {
	f.mu.Lock()
	f.removes++
	f.mu.Unlock()
}

func (f *fakeRenderer) RenderLink() {
	f.mu.Lock()
	f.links++
	f.mu.Unlock()
}

type fixture struct {
	store    *session.Store
	bus      *events.Bus
	authAPI  *fakeAuthAPI
	userAPI  *fakeUserAPI
	billing  *fakeBillingAPI
	conv     *fakeConvSync
	renderer *fakeRenderer
	manager  *Manager
}

func newFixture(t *testing.T, env Environment) *fixture {
	t.Helper()
	f := &fixture{
		store:    session.NewStore(),
		bus:      events.NewBus(),
		authAPI:  &fakeAuthAPI{resp: &api.LoginResponse{AppUser: session.User{ID: "u1"}}},
		userAPI:  &fakeUserAPI{user: session.User{ID: "u1"}},
		billing:  &fakeBillingAPI{account: &session.BillingAccount{Name: "Ada"}},
		conv:     &fakeConvSync{},
		renderer: &fakeRenderer{},
	}
	provider, err := device.NewProvider(device.NewMemoryStorage())
	require.NoError(t, err)
	f.manager, err = NewManager(ManagerConfig{
		Store:        f.store,
		Bus:          f.bus,
		Device:       provider,
		Auth:         f.authAPI,
		User:         f.userAPI,
		Billing:      f.billing,
		Conversation: f.conv,
		Renderer:     f.renderer,
		Env:          env,
		Info:         api.DeviceMetadata{SDKVersion: "0.4.0"},
	})
	require.NoError(t, err)
	return f
}

func TestInitScenarioEmailCapture(t *testing.T) {
	f := newFixture(t, Environment{})

	var readyUser *session.User
	f.bus.On(events.TopicReady, func(p events.Payload) { readyUser = p.User })

	user, err := f.manager.Init(context.Background(), Config{
		AppToken:            "T",
		UserID:              "u1",
		Attributes:          map[string]any{"email": "a@b.com", "notEditable": true},
		EmailCaptureEnabled: true,
	})
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "a@b.com", user.Attributes["email"])
	require.NotContains(t, user.Attributes, "notEditable")

	require.True(t, f.store.App().EmailReadonly)
	require.Equal(t, session.Auth{AppToken: "T"}, f.store.Auth())
	require.NotNil(t, readyUser)
	require.Equal(t, "u1", readyUser.ID)

	// unknown keys never reach the backend
	require.Equal(t, map[string]any{"email": "a@b.com"}, f.userAPI.lastAttrs)
	require.Equal(t, "web", f.authAPI.lastReq.Device.Platform)
	require.NotEmpty(t, f.authAPI.lastReq.Device.ID)

	// not embedded and not yet rendered: rendering is triggered
	require.Equal(t, 1, f.renderer.rendered)
}

func TestInitEmbeddedDoesNotRender(t *testing.T) {
	f := newFixture(t, Environment{})

	_, err := f.manager.Init(context.Background(), Config{AppToken: "T", Embedded: true})
	require.NoError(t, err)
	require.Equal(t, 0, f.renderer.rendered)
	require.True(t, f.store.App().Embedded)
}

func TestInitAutomatedAgentShowsLinkOnly(t *testing.T) {
	f := newFixture(t, Environment{IsAutomatedAgent: true})

	ready := false
	f.bus.On(events.TopicReady, func(events.Payload) { ready = true })

	user, err := f.manager.Init(context.Background(), Config{AppToken: "T"})
	require.NoError(t, err)
	require.Nil(t, user)
	require.True(t, ready)
	require.Equal(t, 1, f.renderer.links)
	require.Equal(t, 0, f.authAPI.calls)
}

func TestInitHeadlessAgentOutsideTestModeIsSilent(t *testing.T) {
	f := newFixture(t, Environment{IsHeadlessAgent: true})

	user, err := f.manager.Init(context.Background(), Config{AppToken: "T"})
	require.NoError(t, err)
	require.Nil(t, user)
	require.Equal(t, 0, f.authAPI.calls)

	// test mode lifts the restriction
	f2 := newFixture(t, Environment{IsHeadlessAgent: true, IsTestMode: true})
	user, err = f2.manager.Init(context.Background(), Config{AppToken: "T"})
	require.NoError(t, err)
	require.NotNil(t, user)
}

func TestLoginRejectionLeavesStateReset(t *testing.T) {
	f := newFixture(t, Environment{})
	f.authAPI.err = &api.AuthError{StatusCode: 401, Message: "bad jwt"}

	ready := false
	f.bus.On(events.TopicReady, func(events.Payload) { ready = true })

	_, err := f.manager.Init(context.Background(), Config{AppToken: "T", UserID: "u1", JWT: "bad"})
	var authErr *api.AuthError
	require.ErrorAs(t, err, &authErr)

	require.False(t, ready)
	require.Empty(t, f.store.User().ID)
	require.Empty(t, f.store.Conversation().ID)
	require.Equal(t, 0, f.renderer.rendered)
}

func TestLoginConnectsConversationWhenStarted(t *testing.T) {
	f := newFixture(t, Environment{})
	f.userAPI.user = session.User{ID: "u1", ConversationStarted: true}

	_, err := f.manager.Init(context.Background(), Config{AppToken: "T", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 1, f.conv.connects)
	require.True(t, f.conv.connected)
}

func TestSecondLoginFullyResetsFirst(t *testing.T) {
	f := newFixture(t, Environment{})
	f.userAPI.user = session.User{ID: "u1", ConversationStarted: true}

	_, err := f.manager.Init(context.Background(), Config{
		AppToken:   "T",
		UserID:     "u1",
		Attributes: map[string]any{"givenName": "Ada"},
	})
	require.NoError(t, err)
	require.True(t, f.conv.connected)

	f.authAPI.resp = &api.LoginResponse{AppUser: session.User{ID: "anon"}}
	f.userAPI.user = session.User{ID: "anon"}
	user, err := f.manager.Logout(context.Background())
	require.NoError(t, err)

	// no leaked attributes, no duplicate subscription
	require.Equal(t, "anon", user.ID)
	require.NotContains(t, user.Attributes, "givenName")
	require.Equal(t, 1, f.conv.connects)
	require.GreaterOrEqual(t, f.conv.disconnects, 2)
	require.False(t, f.conv.connected)
}

func TestSupersededLoginDoesNotOverwriteNewerState(t *testing.T) {
	f := newFixture(t, Environment{})

	_, err := f.manager.Init(context.Background(), Config{AppToken: "T"})
	require.NoError(t, err)

	release := make(chan struct{})
	f.authAPI.mu.Lock()
	f.authAPI.block = release
	f.authAPI.resp = &api.LoginResponse{AppUser: session.User{ID: "stale"}}
	f.authAPI.mu.Unlock()

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.manager.Login(context.Background(), WithToken("old-user", "jwt-old"))
		firstDone <- err
	}()

	// wait for the first login to be parked inside the auth call
	require.Eventually(t, func() bool {
		f.authAPI.mu.Lock()
		defer f.authAPI.mu.Unlock()
		return f.authAPI.calls >= 2
	}, time.Second, 5*time.Millisecond)

	f.authAPI.mu.Lock()
	f.authAPI.resp = &api.LoginResponse{AppUser: session.User{ID: "fresh"}}
	f.authAPI.mu.Unlock()
	f.userAPI.user = session.User{ID: "fresh"}

	user, err := f.manager.Login(context.Background(), WithToken("new-user", "jwt-new"))
	require.NoError(t, err)
	require.Equal(t, "fresh", user.ID)

	close(release)
	require.ErrorIs(t, <-firstDone, ErrLoginSuperseded)
	require.Equal(t, "fresh", f.store.User().ID)
}

func TestBillingLookupIsBestEffort(t *testing.T) {
	f := newFixture(t, Environment{})
	f.authAPI.resp = &api.LoginResponse{
		AppUser:    session.User{ID: "u1"},
		PublicKeys: map[string]string{"stripe": "pk_1"},
	}
	f.billing.err = errors.New("stripe is down")

	user, err := f.manager.Init(context.Background(), Config{AppToken: "T"})
	require.NoError(t, err)
	require.Nil(t, user.StripeInfo)
}

func TestBillingAccountStoredWhenAvailable(t *testing.T) {
	f := newFixture(t, Environment{})
	f.authAPI.resp = &api.LoginResponse{
		AppUser:    session.User{ID: "u1"},
		PublicKeys: map[string]string{"stripe": "pk_1"},
	}

	_, err := f.manager.Init(context.Background(), Config{AppToken: "T"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		u := f.store.User()
		return u.StripeInfo != nil && u.StripeInfo.Name == "Ada"
	}, time.Second, 10*time.Millisecond)
}

func TestCredentialConstructorsDisambiguate(t *testing.T) {
	withToken := WithToken("u1", "jwt-1")
	require.Equal(t, "jwt-1", withToken.JWT)
	require.Empty(t, withToken.Attributes)

	withAttrs := WithAttributes("u1", map[string]any{"givenName": "Ada"})
	require.Empty(t, withAttrs.JWT)
	require.Equal(t, "Ada", withAttrs.Attributes["givenName"])
}

func TestDestroyPreservesEmbeddedAndSkipsRemoval(t *testing.T) {
	f := newFixture(t, Environment{})
	_, err := f.manager.Init(context.Background(), Config{AppToken: "T", Embedded: true})
	require.NoError(t, err)
	f.manager.Render(&struct{}{})

	destroyed := false
	f.bus.On(events.TopicDestroy, func(events.Payload) { destroyed = true })

	f.manager.Destroy()

	require.True(t, destroyed)
	require.True(t, f.store.App().Embedded)
	require.Equal(t, 1, f.renderer.unmounts)
	require.Equal(t, 0, f.renderer.removes)
	require.Equal(t, session.Auth{}, f.store.Auth())
}

func TestDestroyRemovesContainerWhenNotEmbedded(t *testing.T) {
	f := newFixture(t, Environment{})
	_, err := f.manager.Init(context.Background(), Config{AppToken: "T"})
	require.NoError(t, err)

	f.manager.Destroy()
	require.Equal(t, 1, f.renderer.unmounts)
	require.Equal(t, 1, f.renderer.removes)
	require.False(t, f.store.App().Embedded)
}
