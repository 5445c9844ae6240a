package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Topics
const (
	TopicDemand    = "burrow.demand"
	TopicTaskState = "burrow.task-state"
)

// DemandHandler consumes demand signals
type DemandHandler func(ctx context.Context, sig types.DemandSignal) error

// TaskStateHandler consumes lifecycle events
type TaskStateHandler func(ctx context.Context, change types.TaskStateChange) error

// Bus is an in-process publish/subscribe bus. Each handler receives one
// message at a time and the next message is only delivered after the
// previous one was acknowledged.
type Bus struct {
	router *message.Router
	pubsub *gochannel.GoChannel
	logger zerolog.Logger

	runOnce sync.Once
}

// NewBus creates a bus backed by a Go channel pub/sub
func NewBus() (*Bus, error) {
	wmLogger := NewLogger(log.WithComponent("bus"))
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, wmLogger)

	r, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	return &Bus{
		router: r,
		pubsub: pubsub,
		logger: log.WithComponent("bus"),
	}, nil
}

// HandleDemand subscribes fn to the demand topic
func (b *Bus) HandleDemand(name string, fn DemandHandler) {
	b.router.AddConsumerHandler(name, TopicDemand, b.pubsub, func(msg *message.Message) error {
		var sig types.DemandSignal
		if err := json.Unmarshal(msg.Payload, &sig); err != nil {
			b.logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable demand signal")
			return nil
		}
		if err := fn(msg.Context(), sig); err != nil {
			b.logger.Error().Err(err).Str("handler", name).Str("signal", sig.ID).Msg("demand handler failed")
		}
		return nil
	})
}

// HandleTaskState subscribes fn to the lifecycle topic
func (b *Bus) HandleTaskState(name string, fn TaskStateHandler) {
	b.router.AddConsumerHandler(name, TopicTaskState, b.pubsub, func(msg *message.Message) error {
		var change types.TaskStateChange
		if err := json.Unmarshal(msg.Payload, &change); err != nil {
			b.logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable task state change")
			return nil
		}
		if err := fn(msg.Context(), change); err != nil {
			b.logger.Error().Err(err).Str("handler", name).Str("task", change.TaskArn).Msg("task state handler failed")
		}
		return nil
	})
}

// PublishDemand publishes a demand signal
func (b *Bus) PublishDemand(sig types.DemandSignal) error {
	return b.publish(TopicDemand, sig, map[string]string{"source": string(sig.Source)})
}

// PublishTaskState publishes a lifecycle event
func (b *Bus) PublishTaskState(change types.TaskStateChange) error {
	return b.publish(TopicTaskState, change, map[string]string{"last_status": change.LastStatus})
}

func (b *Bus) publish(topic string, v interface{}, metadata map[string]string) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	for k, val := range metadata {
		msg.Metadata.Set(k, val)
	}
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Run starts the router and blocks until ctx is cancelled
func (b *Bus) Run(ctx context.Context) error {
	var runErr error
	b.runOnce.Do(func() {
		go func() {
			<-ctx.Done()
			_ = b.router.Close()
		}()
		runErr = b.router.Run(ctx)
	})
	return runErr
}

// Running is closed once every handler is subscribed. Messages published
// before that are dropped by the Go channel pub/sub.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the router and the pub/sub
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return err
	}
	return b.pubsub.Close()
}
