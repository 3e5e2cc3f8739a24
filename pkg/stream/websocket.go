package stream

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// WebSocketBackend receives pushed events over a websocket endpoint, one
// connection per subscribed conversation. It is receive-only; messages are
// sent through the HTTP API.
type WebSocketBackend struct {
	endpoint string
	dialer   *websocket.Dialer
}

var _ Backend = &WebSocketBackend{}

func NewWebSocketBackend(endpoint string) (*WebSocketBackend, error) {
	endpoint = strings.TrimSpace(endpoint)
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "websocket backend: parse endpoint")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Errorf("websocket backend: unsupported scheme %q", u.Scheme)
	}
	return &WebSocketBackend{endpoint: endpoint, dialer: websocket.DefaultDialer}, nil
}

func (b *WebSocketBackend) Publisher() message.Publisher { return nil }

func (b *WebSocketBackend) BuildSubscriber(_ context.Context, convID string) (message.Subscriber, bool, error) {
	if b == nil || b.dialer == nil {
		return nil, false, errors.New("websocket backend is not initialized")
	}
	if convID == "" {
		return nil, false, errors.New("convID is empty")
	}
	return &wsSubscriber{endpoint: b.endpoint, dialer: b.dialer}, true, nil
}

func (b *WebSocketBackend) Close() error { return nil }

// wsSubscriber adapts a websocket read loop to the watermill subscriber
// contract. The output channel closes when the connection drops, the context
// is canceled or Close is called.
type wsSubscriber struct {
	endpoint string
	dialer   *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func (s *wsSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "ws subscriber: parse endpoint")
	}
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()

	conn, resp, err := s.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrap(err, "ws subscriber: dial")
	}

	readCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	out := make(chan *message.Message)
	go func() {
		<-readCtx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if readCtx.Err() == nil {
					log.Debug().Str("component", "stream").Str("topic", topic).Err(err).Msg("websocket read loop ended")
				}
				return
			}
			msg := message.NewMessage(watermill.NewUUID(), data)
			select {
			case out <- msg:
			case <-readCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *wsSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
