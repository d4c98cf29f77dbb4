package conduit

import (
	"encoding/json"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/G-Research/conduit/internal/common/conduitcontext"
	"github.com/G-Research/conduit/internal/common/conduiterrors"
	"github.com/G-Research/conduit/internal/common/pubsub"
	"github.com/G-Research/conduit/internal/common/slices"
)

var jsonConfig = jsoniter.ConfigCompatibleWithStandardLibrary

// Request methods understood by the WebSocket endpoint.
const (
	MethodServerInfo   uint32 = 1
	MethodSubscribe    uint32 = 2
	MethodUnsubscribe  uint32 = 3
	MethodSetHeartbeat uint32 = 4
)

type TopicsParams struct {
	Topics []string `json:"topics"`
}

type TopicsResult struct {
	Topics []string `json:"topics"`
}

type HeartbeatParams struct {
	IntervalMs int64 `json:"interval_ms"`
}

type HeartbeatEvent struct {
	Time       time.Time `json:"time"`
	IntervalMs int64     `json:"interval_ms"`
}

func (s *Server) registerHandlers() {
	if s.db != nil {
		s.toolbox.Handle(MethodServerInfo, s.handleServerInfo)
	}
	s.toolbox.Handle(MethodSubscribe, s.handleSubscribe)
	s.toolbox.Handle(MethodUnsubscribe, s.handleUnsubscribe)
	s.toolbox.Handle(MethodSetHeartbeat, s.handleSetHeartbeat)
}

func (s *Server) handleServerInfo(ctx *conduitcontext.Context, _ pubsub.RequestContext, _ json.RawMessage) (interface{}, error) {
	return FetchServerInfo(ctx, s.db)
}

func (s *Server) handleSubscribe(ctx *conduitcontext.Context, req pubsub.RequestContext, params json.RawMessage) (interface{}, error) {
	topics, err := parseTopicsParams(params)
	if err != nil {
		return nil, err
	}
	s.manager.SubscribeMulti(topics, req)
	ctx.Log.Debugf("Connection %d subscribed to %v", req.ConnectionId, topics)
	return topicsResult(topics), nil
}

func (s *Server) handleUnsubscribe(ctx *conduitcontext.Context, req pubsub.RequestContext, params json.RawMessage) (interface{}, error) {
	topics, err := parseTopicsParams(params)
	if err != nil {
		return nil, err
	}
	s.manager.UnsubscribeMulti(topics, req.ConnectionId)
	ctx.Log.Debugf("Connection %d unsubscribed from %v", req.ConnectionId, topics)
	return topicsResult(topics), nil
}

func (s *Server) handleSetHeartbeat(ctx *conduitcontext.Context, _ pubsub.RequestContext, params json.RawMessage) (interface{}, error) {
	var p HeartbeatParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	interval, err := s.validateHeartbeatInterval(time.Duration(p.IntervalMs) * time.Millisecond)
	if err != nil {
		return nil, err
	}
	if err := s.heartbeat.SetDuration(interval); err != nil {
		return nil, err
	}
	heartbeatInterval.Set(interval.Seconds())
	ctx.Log.Infof("Heartbeat interval set to %s", interval)
	return &HeartbeatParams{IntervalMs: interval.Milliseconds()}, nil
}

// validateHeartbeatInterval checks a requested interval against the configured bounds.
func (s *Server) validateHeartbeatInterval(requested time.Duration) (time.Duration, error) {
	config := s.config.Heartbeat
	if requested <= 0 {
		return 0, errors.WithStack(&conduiterrors.ErrInvalidArgument{
			Name:    "interval_ms",
			Value:   requested.Milliseconds(),
			Message: "must be positive",
		})
	}
	if config.MinInterval > 0 && requested < config.MinInterval {
		return 0, errors.WithStack(&conduiterrors.ErrInvalidArgument{
			Name:    "interval_ms",
			Value:   requested.Milliseconds(),
			Message: "must be at least " + config.MinInterval.String(),
		})
	}
	if config.MaxInterval > 0 && requested > config.MaxInterval {
		return 0, errors.WithStack(&conduiterrors.ErrInvalidArgument{
			Name:    "interval_ms",
			Value:   requested.Milliseconds(),
			Message: "must be at most " + config.MaxInterval.String(),
		})
	}
	return requested, nil
}

func parseTopicsParams(params json.RawMessage) ([]Topic, error) {
	var p TopicsParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Topics) == 0 {
		return nil, errors.WithStack(&conduiterrors.ErrInvalidArgument{
			Name:    "topics",
			Value:   "[]",
			Message: "at least one topic is required",
		})
	}
	return ParseTopics(p.Topics)
}

func unmarshalParams(params json.RawMessage, out interface{}) error {
	if len(params) == 0 {
		return errors.WithStack(&conduiterrors.ErrInvalidArgument{Name: "params", Value: "", Message: "missing"})
	}
	if err := jsonConfig.Unmarshal(params, out); err != nil {
		return errors.WithStack(&conduiterrors.ErrInvalidArgument{
			Name:    "params",
			Value:   string(params),
			Message: err.Error(),
		})
	}
	return nil
}

func topicsResult(topics []Topic) *TopicsResult {
	return &TopicsResult{Topics: slices.Map(topics, Topic.String)}
}
