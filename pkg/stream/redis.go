package stream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisSettings holds Redis Streams transport configuration.
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

func (s *RedisSettings) withDefaults() RedisSettings {
	out := *s
	if out.Addr == "" {
		out.Addr = "localhost:6379"
	}
	if out.Group == "" {
		out.Group = "widget"
	}
	if out.Consumer == "" {
		out.Consumer = "widget-1"
	}
	return out
}

// RedisBackend rides conversation topics on Redis Streams, one consumer
// group per widget deployment.
type RedisBackend struct {
	settings RedisSettings
	client   *redis.Client
	pub      message.Publisher
}

var _ Backend = &RedisBackend{}

func NewRedisBackend(settings RedisSettings) (*RedisBackend, error) {
	settings = settings.withDefaults()
	client := redis.NewClient(&redis.Options{Addr: settings.Addr})
	marshaller := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaller,
	}, newWatermillLogger(log.Logger))
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis backend: build publisher")
	}

	return &RedisBackend{settings: settings, client: client, pub: pub}, nil
}

func (b *RedisBackend) Publisher() message.Publisher {
	if b == nil {
		return nil
	}
	return b.pub
}

func (b *RedisBackend) BuildSubscriber(ctx context.Context, convID string) (message.Subscriber, bool, error) {
	if b == nil || b.client == nil {
		return nil, false, errors.New("redis backend is not initialized")
	}
	if convID == "" {
		return nil, false, errors.New("convID is empty")
	}
	if err := b.ensureGroupAtTail(ctx, TopicForConversation(convID)); err != nil {
		return nil, false, err
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        b.client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: b.settings.Group,
		Consumer:      b.settings.Consumer + ":" + convID,
	}, newWatermillLogger(log.Logger))
	if err != nil {
		return nil, false, errors.Wrap(err, "redis backend: build subscriber")
	}
	return sub, true, nil
}

// ensureGroupAtTail creates the consumer group at $ so a fresh subscriber
// does not replay the full stream history.
func (b *RedisBackend) ensureGroupAtTail(ctx context.Context, topic string) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, b.settings.Group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "redis backend: create consumer group")
	}
	log.Debug().Str("component", "stream").Str("topic", topic).Str("group", b.settings.Group).Msg("created redis consumer group at tail")
	return nil
}

func (b *RedisBackend) Close() error {
	if b == nil {
		return nil
	}
	if b.pub != nil {
		_ = b.pub.Close()
	}
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
