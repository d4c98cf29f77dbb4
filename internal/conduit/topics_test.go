package conduit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/conduit/internal/common/conduiterrors"
)

func TestParseTopic(t *testing.T) {
	tests := map[string]struct {
		input    string
		expected Topic
		wantErr  bool
	}{
		"heartbeat":           {input: "heartbeat", expected: HeartbeatTopic},
		"pool stats":          {input: "pool_stats", expected: PoolStatsTopic},
		"case and whitespace": {input: " HeartBeat ", expected: HeartbeatTopic},
		"unknown":             {input: "weather", wantErr: true},
		"empty":               {input: "", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			topic, err := ParseTopic(tc.input)
			if tc.wantErr {
				assert.Equal(t, conduiterrors.CodeInvalidArgument, conduiterrors.CodeFromError(err))
				assert.Contains(t, err.Error(), "heartbeat, pool_stats")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, topic)
		})
	}
}

func TestParseTopics(t *testing.T) {
	topics, err := ParseTopics([]string{"pool_stats", "heartbeat"})
	require.NoError(t, err)
	assert.Equal(t, []Topic{PoolStatsTopic, HeartbeatTopic}, topics)

	topics, err = ParseTopics([]string{"heartbeat", "HEARTBEAT", "pool_stats", "heartbeat"})
	require.NoError(t, err)
	assert.Equal(t, []Topic{HeartbeatTopic, PoolStatsTopic}, topics)

	_, err = ParseTopics([]string{"heartbeat", "weather"})
	assert.Error(t, err)
}

func TestTopic_CodeAndString(t *testing.T) {
	for _, topic := range AllTopics {
		assert.Equal(t, uint32(topic), topic.Code())
		assert.NotEqual(t, "unknown", topic.String())
	}
	assert.Equal(t, "unknown", Topic(99).String())
}
