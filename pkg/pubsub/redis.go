package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Alwanly/service-source-ingest/pkg/logger"
)

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type redisPubSub struct {
	client *redis.Client
	logger *logger.CanonicalLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func NewRedisPubSub(ctx context.Context, cfg RedisConfig, log *logger.CanonicalLogger) (PubSub, error) {
	if log == nil {
		log = logger.NewNop()
	}
	addr := cfg.Addr()
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	log.Info("redis client initialized", logger.String("addr", addr))

	return &redisPubSub{
		client: client,
		logger: log.Component("pubsub"),
	}, nil
}

func (r *redisPubSub) Publish(ctx context.Context, channel string, message string) error {
	if err := r.client.Publish(ctx, channel, message).Err(); err != nil {
		r.logger.WithError(err).Error("failed to publish message to redis", logger.String("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (r *redisPubSub) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Subscribe subscribes to Redis channels. Only one subscription per client is
// supported.
func (r *redisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels to subscribe to")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return nil, fmt.Errorf("already subscribed")
	}

	ps := r.client.Subscribe(ctx, channels...)
	// wait for the subscription confirmation so errors surface here
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	r.pubsub = ps
	r.cancel = cancel

	out := make(chan Message, 16)
	go r.listen(listenCtx, ps, out)

	r.logger.Info("subscribed to redis channels", logger.Strings("channels", channels))
	return out, nil
}

func (r *redisPubSub) Unsubscribe(ctx context.Context, channels ...string) error {
	r.mu.Lock()
	ps := r.pubsub
	r.mu.Unlock()
	if ps == nil {
		return nil
	}
	return ps.Unsubscribe(ctx, channels...)
}

func (r *redisPubSub) Close() error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		r.logger.WithError(err).Error("failed to close redis client")
		return err
	}
	return nil
}

func (r *redisPubSub) listen(ctx context.Context, ps *redis.PubSub, out chan<- Message) {
	defer close(out)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping redis listener")
			return
		case m, ok := <-ch:
			if !ok {
				r.logger.Info("redis pubsub channel closed")
				return
			}
			select {
			case out <- Message{Channel: m.Channel, Payload: m.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}
