// Package conversation manages the fetch-or-create conversation lifecycle,
// the push-channel subscription and the merge of pushed events into the
// session store.
package conversation

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatwidget/pkg/events"
	"github.com/go-go-golems/chatwidget/pkg/session"
	"github.com/go-go-golems/chatwidget/pkg/stream"
)

// API is the backend conversation collaborator.
type API interface {
	GetConversation(ctx context.Context) (*session.Conversation, error)
	PostMessage(ctx context.Context, text string) (*session.Message, error)
}

type ServiceConfig struct {
	Store   *session.Store
	Bus     *events.Bus
	API     API
	Backend stream.Backend
	// BaseCtx bounds the lifetime of push subscriptions; defaults to
	// context.Background().
	BaseCtx context.Context
}

// Service owns the singleton push subscription: at most one active
// subscription per authenticated session.
type Service struct {
	store   *session.Store
	bus     *events.Bus
	api     API
	backend stream.Backend
	baseCtx context.Context

	mu        sync.Mutex
	connected bool
	convID    string
	cancel    context.CancelFunc
	ownedSub  message.Subscriber
	readerGen uint64
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("conversation service: store is nil")
	}
	if cfg.Bus == nil {
		return nil, errors.New("conversation service: bus is nil")
	}
	if cfg.API == nil {
		return nil, errors.New("conversation service: api is nil")
	}
	if cfg.Backend == nil {
		return nil, errors.New("conversation service: backend is nil")
	}
	baseCtx := cfg.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Service{
		store:   cfg.Store,
		bus:     cfg.Bus,
		api:     cfg.API,
		backend: cfg.Backend,
		baseCtx: baseCtx,
	}, nil
}

// FetchOrCreate requests the conversation from the backend (which creates it
// if absent) and merges it into the store. Repeated calls while one
// conversation exists return the same conversation identity.
func (s *Service) FetchOrCreate(ctx context.Context) (session.Conversation, error) {
	if s == nil {
		return session.Conversation{}, errors.New("conversation service is not initialized")
	}
	conv, err := s.api.GetConversation(ctx)
	if err != nil {
		return session.Conversation{}, err
	}
	if conv == nil || conv.ID == "" {
		return session.Conversation{}, errors.New("conversation service: backend returned no conversation")
	}
	s.store.SetConversation(*conv)
	return s.store.Conversation(), nil
}

// Connect opens the push subscription for conv. Opening a second
// subscription without disconnecting the first is a contract violation and
// fails.
func (s *Service) Connect(ctx context.Context, conv session.Conversation) error {
	if s == nil {
		return errors.New("conversation service is not initialized")
	}
	if conv.ID == "" {
		return errors.New("conversation service: conversation has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return errors.Errorf("conversation service: push channel already connected to %s", s.convID)
	}

	sub, owned, err := s.backend.BuildSubscriber(ctx, conv.ID)
	if err != nil {
		return errors.Wrap(err, "conversation service: build subscriber")
	}
	readCtx, cancel := context.WithCancel(s.baseCtx)
	ch, err := sub.Subscribe(readCtx, stream.TopicForConversation(conv.ID))
	if err != nil {
		cancel()
		if owned {
			_ = sub.Close()
		}
		return errors.Wrap(err, "conversation service: subscribe")
	}

	s.connected = true
	s.convID = conv.ID
	s.cancel = cancel
	if owned {
		s.ownedSub = sub
	}
	s.readerGen++
	gen := s.readerGen

	log.Debug().Str("component", "conversation").Str("conv_id", conv.ID).Msg("push channel connected")
	go s.readLoop(ch, gen, conv.ID)
	return nil
}

func (s *Service) readLoop(ch <-chan *message.Message, gen uint64, convID string) {
	for msg := range ch {
		var m session.Message
		if err := json.Unmarshal(msg.Payload, &m); err != nil {
			log.Warn().Str("component", "conversation").Str("conv_id", convID).Err(err).Msg("failed to decode pushed message")
			msg.Ack()
			continue
		}
		if s.store.AppendMessage(m) {
			s.bus.Trigger(events.TopicMessageReceived, events.Payload{Message: &m})
		}
		msg.Ack()
	}
	s.mu.Lock()
	if s.readerGen == gen {
		s.connected = false
		s.convID = ""
		s.cancel = nil
		s.ownedSub = nil
	}
	s.mu.Unlock()
	log.Debug().Str("component", "conversation").Str("conv_id", convID).Msg("push channel reader stopped")
}

// Disconnect tears down the active subscription. Safe to call when no
// subscription exists.
func (s *Service) Disconnect() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.ownedSub != nil {
		_ = s.ownedSub.Close()
	}
	s.connected = false
	s.convID = ""
	s.cancel = nil
	s.ownedSub = nil
	s.readerGen++
}

// Connected reports whether a push subscription is active.
func (s *Service) Connected() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SendMessage posts text to the backend without waiting for channel
// confirmation. The accepted message is merged locally with the same id
// dedup as received ones, so a later channel echo is ignored.
func (s *Service) SendMessage(ctx context.Context, text string) (*session.Message, error) {
	if s == nil {
		return nil, errors.New("conversation service is not initialized")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("conversation service: message text is empty")
	}
	m, err := s.api.PostMessage(ctx, text)
	if err != nil {
		return nil, err
	}
	if s.store.AppendMessage(*m) {
		s.bus.Trigger(events.TopicMessageSent, events.Payload{Message: m})
	}
	return m, nil
}

// HandleConversationUpdated re-synchronizes conversation state after a user
// update that may have created the conversation server-side, and connects
// the push channel if it is not yet open.
func (s *Service) HandleConversationUpdated(ctx context.Context) error {
	if s == nil {
		return errors.New("conversation service is not initialized")
	}
	conv, err := s.FetchOrCreate(ctx)
	if err != nil {
		return err
	}
	if s.Connected() {
		return nil
	}
	return s.Connect(ctx, conv)
}
