// Package pubsub fans events out to the connections subscribed to a topic. Each subscription carries its own
// stream sequence, starting at 0 and increasing by one per delivered event. Subscribers whose connection has gone
// are dropped after the publish that discovered it.
package pubsub

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

type subscribers struct {
	mu          sync.Mutex
	subscribers map[ConnectionId]*SubscriberContext
}

// SubscribeManager is safe for concurrent use. Publishing to a topic holds that topic exclusively; other topics
// remain available.
type SubscribeManager[K Topic] struct {
	mu     sync.RWMutex
	topics map[K]*subscribers
}

func NewSubscribeManager[K Topic]() *SubscribeManager[K] {
	return &SubscribeManager[K]{topics: map[K]*subscribers{}}
}

func (m *SubscribeManager[K]) AddTopic(topic K) {
	m.topic(topic)
}

func (m *SubscribeManager[K]) AddTopics(topics []K) {
	for _, topic := range topics {
		m.AddTopic(topic)
	}
}

// Topics returns every known topic, in no particular order.
func (m *SubscribeManager[K]) Topics() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	topics := make([]K, 0, len(m.topics))
	for topic := range m.topics {
		topics = append(topics, topic)
	}
	return topics
}

func (m *SubscribeManager[K]) lookup(topic K) *subscribers {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.topics[topic]
}

// topic returns the subscribers of topic, creating the topic if needed.
func (m *SubscribeManager[K]) topic(topic K) *subscribers {
	if subs := m.lookup(topic); subs != nil {
		return subs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.topics[topic]
	if !ok {
		subs = &subscribers{subscribers: map[ConnectionId]*SubscriberContext{}}
		m.topics[topic] = subs
	}
	return subs
}

// Subscribe adds ctx's connection to topic, creating the topic if needed. An existing subscription of the same
// connection is replaced and its stream sequence restarts at 0.
func (m *SubscribeManager[K]) Subscribe(topic K, ctx RequestContext) {
	subs := m.topic(topic)
	subs.mu.Lock()
	defer subs.mu.Unlock()
	subs.subscribers[ctx.ConnectionId] = &SubscriberContext{Ctx: ctx}
}

func (m *SubscribeManager[K]) SubscribeMulti(topics []K, ctx RequestContext) {
	for _, topic := range topics {
		m.Subscribe(topic, ctx)
	}
}

func (m *SubscribeManager[K]) Unsubscribe(topic K, connId ConnectionId) {
	subs := m.lookup(topic)
	if subs == nil {
		return
	}
	subs.mu.Lock()
	defer subs.mu.Unlock()
	delete(subs.subscribers, connId)
}

func (m *SubscribeManager[K]) UnsubscribeMulti(topics []K, connId ConnectionId) {
	for _, topic := range topics {
		m.Unsubscribe(topic, connId)
	}
}

// UnsubscribeAll removes connId from every topic.
func (m *SubscribeManager[K]) UnsubscribeAll(connId ConnectionId) {
	for _, topic := range m.Topics() {
		m.Unsubscribe(topic, connId)
	}
}

// Subscribers returns a copy of the current subscriptions of topic.
func (m *SubscribeManager[K]) Subscribers(topic K) []SubscriberContext {
	subs := m.lookup(topic)
	if subs == nil {
		return nil
	}
	subs.mu.Lock()
	defer subs.mu.Unlock()
	result := make([]SubscriberContext, 0, len(subs.subscribers))
	for _, sub := range subs.subscribers {
		result = append(result, *sub)
	}
	return result
}

// PublishWithFilter sends msg to every subscriber of topic accepted by filter. msg is serialized once. Publishing to
// a topic nobody has created does nothing.
func (m *SubscribeManager[K]) PublishWithFilter(sender Sender, topic K, msg interface{}, filter func(RequestContext) bool) error {
	data, err := jsonConfig.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize event for topic %d", topic.Code())
	}
	m.publishData(sender, topic, data, filter)
	return nil
}

func (m *SubscribeManager[K]) PublishToAll(sender Sender, topic K, msg interface{}) error {
	return m.PublishWithFilter(sender, topic, msg, func(RequestContext) bool { return true })
}

func (m *SubscribeManager[K]) publishData(sender Sender, topic K, data json.RawMessage, filter func(RequestContext) bool) {
	subs := m.lookup(topic)
	if subs == nil {
		return
	}
	code := topic.Code()
	label := strconv.FormatUint(uint64(code), 10)

	subs.mu.Lock()
	defer subs.mu.Unlock()
	var dead []ConnectionId
	for connId, sub := range subs.subscribers {
		if !filter(sub.Ctx) {
			continue
		}
		resp := &StreamResponse{
			Type:        StreamResponseType,
			OriginalSeq: sub.Ctx.Seq,
			Method:      sub.Ctx.Method,
			StreamSeq:   sub.StreamSeq,
			StreamCode:  code,
			Data:        data,
		}
		sub.StreamSeq++
		if sender.Send(connId, resp) {
			deliveredEvents.WithLabelValues(label).Inc()
		} else {
			dead = append(dead, connId)
		}
	}
	for _, connId := range dead {
		delete(subs.subscribers, connId)
	}
	evictedSubscribers.WithLabelValues(label).Add(float64(len(dead)))
}
