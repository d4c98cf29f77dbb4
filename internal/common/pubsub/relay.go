package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/G-Research/conduit/internal/common/conduitcontext"
	"github.com/G-Research/conduit/internal/common/util"
)

// Transport carries relayed events between instances.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a stream of payloads published on channel and a function that ends the subscription.
	// The stream is closed when the subscription breaks.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
}

// RedisTransport implements Transport with Redis pub/sub.
type RedisTransport struct {
	client redis.UniversalClient
}

func NewRedisTransport(client redis.UniversalClient) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Publish(_ context.Context, channel string, payload []byte) error {
	return errors.WithStack(t.client.Publish(channel, payload).Err())
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	sub := t.client.Subscribe(channel)
	// Wait for the subscription to be confirmed so that nothing published afterwards is missed.
	if _, err := sub.Receive(); err != nil {
		_ = sub.Close()
		return nil, nil, errors.WithStack(err)
	}

	payloads := make(chan []byte)
	messages := sub.Channel()
	go func() {
		defer close(payloads)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case payloads <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return payloads, sub.Close, nil
}

type relayEnvelope struct {
	Origin string          `json:"origin"`
	Topic  uint32          `json:"topic"`
	Data   json.RawMessage `json:"data"`
}

// Relay publishes events both to local subscribers and, through a Transport, to every other instance sharing the
// channel. Events received from other instances are published to local subscribers.
type Relay[K Topic] struct {
	manager   *SubscribeManager[K]
	sender    Sender
	transport Transport
	channel   string
	origin    string
	topics    map[uint32]K
}

// NewRelay creates a relay for the given topics. Events for topics outside this list are ignored when received.
func NewRelay[K Topic](manager *SubscribeManager[K], sender Sender, transport Transport, channel string, topics []K) *Relay[K] {
	byCode := make(map[uint32]K, len(topics))
	for _, topic := range topics {
		byCode[topic.Code()] = topic
	}
	return &Relay[K]{
		manager:   manager,
		sender:    sender,
		transport: transport,
		channel:   channel,
		origin:    uuid.New().String(),
		topics:    byCode,
	}
}

// Publish delivers msg to local subscribers of topic and forwards it to other instances.
func (r *Relay[K]) Publish(ctx context.Context, topic K, msg interface{}) error {
	data, err := jsonConfig.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize event for topic %d", topic.Code())
	}
	r.manager.publishData(r.sender, topic, data, func(RequestContext) bool { return true })

	payload, err := jsonConfig.Marshal(&relayEnvelope{Origin: r.origin, Topic: topic.Code(), Data: data})
	if err != nil {
		return errors.WithStack(err)
	}
	if err := r.transport.Publish(ctx, r.channel, payload); err != nil {
		return errors.Wrapf(err, "failed to relay event for topic %d", topic.Code())
	}
	relayedEvents.WithLabelValues("out").Inc()
	return nil
}

// Run receives events from other instances until ctx is cancelled, resubscribing if the subscription breaks.
func (r *Relay[K]) Run(ctx *conduitcontext.Context) {
	util.RetryUntilSuccess(
		ctx,
		time.Second,
		func() error {
			return r.listen(ctx)
		},
		func(err error) {
			ctx.Log.WithError(err).Warnf("Relay subscription to %s failed; resubscribing", r.channel)
		},
	)
}

func (r *Relay[K]) listen(ctx *conduitcontext.Context) error {
	payloads, unsubscribe, err := r.transport.Subscribe(ctx, r.channel)
	if err != nil {
		return err
	}
	defer func() {
		_ = unsubscribe()
	}()
	ctx.Log.Infof("Relaying events through %s", r.channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-payloads:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Errorf("subscription to %s closed", r.channel)
			}
			r.deliver(ctx, payload)
		}
	}
}

func (r *Relay[K]) deliver(ctx *conduitcontext.Context, payload []byte) {
	var envelope relayEnvelope
	if err := jsonConfig.Unmarshal(payload, &envelope); err != nil {
		ctx.Log.WithError(err).Warn("Discarding malformed relayed event")
		return
	}
	if envelope.Origin == r.origin {
		return
	}
	topic, ok := r.topics[envelope.Topic]
	if !ok {
		ctx.Log.Debugf("Discarding relayed event for unknown topic %d", envelope.Topic)
		return
	}
	relayedEvents.WithLabelValues("in").Inc()
	r.manager.publishData(r.sender, topic, envelope.Data, func(RequestContext) bool { return true })
}
