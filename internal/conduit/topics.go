package conduit

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/G-Research/conduit/internal/common/conduiterrors"
	"github.com/G-Research/conduit/internal/common/slices"
)

// Topic is an event stream clients can subscribe to.
type Topic uint32

const (
	HeartbeatTopic Topic = iota + 1
	PoolStatsTopic
)

var topicNames = map[Topic]string{
	HeartbeatTopic: "heartbeat",
	PoolStatsTopic: "pool_stats",
}

// AllTopics lists every topic in code order.
var AllTopics = []Topic{HeartbeatTopic, PoolStatsTopic}

func (t Topic) Code() uint32 {
	return uint32(t)
}

func (t Topic) String() string {
	if name, ok := topicNames[t]; ok {
		return name
	}
	return "unknown"
}

func ParseTopic(name string) (Topic, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for topic, topicName := range topicNames {
		if topicName == name {
			return topic, nil
		}
	}
	valid := make([]string, 0, len(topicNames))
	for _, topicName := range topicNames {
		valid = append(valid, topicName)
	}
	sort.Strings(valid)
	return 0, errors.WithStack(&conduiterrors.ErrInvalidArgument{
		Name:    "topic",
		Value:   name,
		Message: "expected one of " + strings.Join(valid, ", "),
	})
}

// ParseTopics parses every name, dropping repeated topics.
func ParseTopics(names []string) ([]Topic, error) {
	topics := make([]Topic, 0, len(names))
	for _, name := range names {
		topic, err := ParseTopic(name)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return slices.Unique(topics), nil
}
