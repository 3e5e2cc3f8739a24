package stream

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MemoryBackend is the default in-process backend. It doubles as the test
// transport: publishing on a conversation topic simulates a server push.
type MemoryBackend struct {
	pubsub *gochannel.GoChannel
}

var _ Backend = &MemoryBackend{}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			newWatermillLogger(log.Logger),
		),
	}
}

func (b *MemoryBackend) Publisher() message.Publisher {
	if b == nil {
		return nil
	}
	return b.pubsub
}

func (b *MemoryBackend) BuildSubscriber(_ context.Context, convID string) (message.Subscriber, bool, error) {
	if b == nil || b.pubsub == nil {
		return nil, false, errors.New("memory backend is not initialized")
	}
	if convID == "" {
		return nil, false, errors.New("convID is empty")
	}
	// shared subscriber, lifetime tied to the backend
	return b.pubsub, false, nil
}

func (b *MemoryBackend) Close() error {
	if b == nil || b.pubsub == nil {
		return nil
	}
	return b.pubsub.Close()
}
