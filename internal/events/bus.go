package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/clinicdesk/internal/consumer"
	"github.com/phrazzld/clinicdesk/internal/redact"
)

var (
	// ErrUnknownChannel is returned for a channel the bus was not constructed with.
	ErrUnknownChannel = errors.New("unknown event channel")

	// ErrPayloadMismatch is returned when a channel is used with a payload
	// type other than the one it was registered with.
	ErrPayloadMismatch = errors.New("payload type does not match channel")

	// ErrDuplicateChannel is returned by NewBus when two channels share a name.
	ErrDuplicateChannel = errors.New("duplicate event channel")

	// ErrBusClosed is returned by Publish when the consumer loop no longer accepts work.
	ErrBusClosed = errors.New("event bus closed")
)

// Handler receives one payload on the consumer loop. A returned error is
// logged and does not affect other subscribers.
type Handler[T any] func(ctx context.Context, payload T) error

// RawHandler receives payloads of any channel untyped, along with the channel name.
type RawHandler func(ctx context.Context, channel string, payload any) error

type subscriber struct {
	id      uint64
	deliver func(ctx context.Context, payload any) error
	active  atomic.Bool
}

type channelState struct {
	info        ChannelInfo
	subscribers []*subscriber
}

// Bus is the process-wide publish/subscribe registry. Construct one with
// NewBus and share the pointer.
type Bus struct {
	poster consumer.Poster
	logger *slog.Logger

	mu       sync.RWMutex
	order    []string
	channels map[string]*channelState
	nextID   uint64
}

// NewBus creates a bus over a fixed channel set. Deliveries are posted to poster.
func NewBus(poster consumer.Poster, logger *slog.Logger, channels ...Describer) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		poster:   poster,
		logger:   logger.With("component", "event_bus"),
		channels: make(map[string]*channelState, len(channels)),
	}
	for _, ch := range channels {
		if _, exists := b.channels[ch.Name()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateChannel, ch.Name())
		}
		b.channels[ch.Name()] = &channelState{
			info: ChannelInfo{Name: ch.Name(), PayloadType: ch.PayloadType()},
		}
		b.order = append(b.order, ch.Name())
	}
	return b, nil
}

// Describe returns the channel table in registration order.
func (b *Bus) Describe() ChannelTable {
	b.mu.RLock()
	defer b.mu.RUnlock()

	table := ChannelTable{Version: ChannelTableVersion, Channels: make([]ChannelInfo, 0, len(b.order))}
	for _, name := range b.order {
		table.Channels = append(table.Channels, b.channels[name].info)
	}
	return table
}

// SubscriberCount returns the number of active subscribers on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state, ok := b.channels[channel]
	if !ok {
		return 0
	}
	return len(state.subscribers)
}

// Subscribe registers h on ch and returns a function that removes it.
// A subscriber only sees payloads published after it registered.
func Subscribe[T any](b *Bus, ch Channel[T], h Handler[T]) (func(), error) {
	return b.subscribe(ch.Name(), ch.PayloadType(), func(ctx context.Context, payload any) error {
		return h(ctx, payload.(T))
	})
}

// SubscribeRaw registers h on the named channel without type information.
// It is meant for relays such as the websocket bridge.
func (b *Bus) SubscribeRaw(channel string, h RawHandler) (func(), error) {
	return b.subscribe(channel, "", func(ctx context.Context, payload any) error {
		return h(ctx, channel, payload)
	})
}

// Publish delivers payload to every subscriber of ch on the consumer loop.
// It returns as soon as the delivery is queued.
func Publish[T any](ctx context.Context, b *Bus, ch Channel[T], payload T) error {
	return b.publish(ctx, ch.Name(), ch.PayloadType(), payload)
}

func (b *Bus) subscribe(channel, payloadType string, deliver func(context.Context, any) error) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.lookup(channel, payloadType)
	if err != nil {
		return nil, err
	}

	b.nextID++
	sub := &subscriber{id: b.nextID, deliver: deliver}
	sub.active.Store(true)
	state.subscribers = append(state.subscribers, sub)

	b.logger.Debug("registered subscriber",
		slog.String("channel", channel),
		slog.Int("subscriber_count", len(state.subscribers)))

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(channel, sub) })
	}, nil
}

func (b *Bus) unsubscribe(channel string, sub *subscriber) {
	sub.active.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.channels[channel]
	for i, s := range state.subscribers {
		if s == sub {
			// Copy so snapshots held by queued deliveries stay intact.
			subs := make([]*subscriber, 0, len(state.subscribers)-1)
			subs = append(subs, state.subscribers[:i]...)
			state.subscribers = append(subs, state.subscribers[i+1:]...)
			return
		}
	}
}

func (b *Bus) publish(ctx context.Context, channel, payloadType string, payload any) error {
	b.mu.RLock()
	state, err := b.lookup(channel, payloadType)
	var subs []*subscriber
	if err == nil {
		subs = state.subscribers
	}
	b.mu.RUnlock()

	if err != nil {
		return err
	}
	if len(subs) == 0 {
		b.logger.Debug("no subscribers for channel", slog.String("channel", channel))
		return nil
	}

	if !b.poster.Post(func(loopCtx context.Context) {
		b.deliver(loopCtx, channel, subs, payload)
	}) {
		return fmt.Errorf("%w: publish on %s", ErrBusClosed, channel)
	}
	return nil
}

// lookup must be called with b.mu held. An empty payloadType skips the type check.
func (b *Bus) lookup(channel, payloadType string) (*channelState, error) {
	state, ok := b.channels[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	if payloadType != "" && state.info.PayloadType != payloadType {
		return nil, fmt.Errorf("%w: %s carries %s, got %s",
			ErrPayloadMismatch, channel, state.info.PayloadType, payloadType)
	}
	return state, nil
}

func (b *Bus) deliver(ctx context.Context, channel string, subs []*subscriber, payload any) {
	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		if err := b.invoke(ctx, sub, payload); err != nil {
			b.logger.Error("subscriber failed to handle payload",
				slog.String("channel", channel),
				slog.Uint64("subscriber_id", sub.id),
				slog.String("error", redact.Error(err)))
		}
	}
}

func (b *Bus) invoke(ctx context.Context, sub *subscriber, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
			b.logger.Debug("subscriber panic stack", slog.String("stack", string(debug.Stack())))
		}
	}()
	return sub.deliver(ctx, payload)
}
