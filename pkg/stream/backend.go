// Package stream abstracts the real-time push transport as an opaque
// publish/subscribe channel. Conversations map one-to-one onto topics;
// backends decide how topics travel (in-memory, Redis Streams, websocket).
package stream

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Backend exposes publisher/subscriber construction for conversation
// streams.
type Backend interface {
	// Publisher returns the backend publisher, or nil for receive-only
	// backends (sends then go through the HTTP API).
	Publisher() message.Publisher
	// BuildSubscriber returns a subscriber for the conversation's topic. The
	// boolean reports whether the caller owns the subscriber and must close
	// it on disconnect.
	BuildSubscriber(ctx context.Context, convID string) (message.Subscriber, bool, error)
	Close() error
}

// TopicForConversation computes the push topic for a conversation.
func TopicForConversation(convID string) string { return "conv:" + convID }
