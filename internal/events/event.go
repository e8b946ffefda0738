package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Security event types.
const (
	TypeRecoveryCodeRedeemed = "recovery_code.redeemed"
	TypeRecoveryCodeReused   = "recovery_code.reused"
	TypeRecoveryCodesIssued  = "recovery_code.generated"
	TypeReplayDetected       = "webauthn.replay_detected"
	TypeCredentialRegistered = "webauthn.credential_registered"
	TypeCredentialRevoked    = "webauthn.credential_revoked"
	TypeQRLoginApproved      = "qr_login.approved"
)

// Event is a security-relevant occurrence flagged for administrator attention.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	UserID    uint64            `json:"user_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives dispatched events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// NoOp drops every event.
type NoOp struct{}

func (NoOp) Emit(context.Context, Event) {}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

// LogSink writes events as warn-level structured log lines.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, event Event) {
	fields := log.Fields{
		"security":   true,
		"event_type": event.Type,
		"user_id":    event.UserID,
	}
	for key, value := range event.Metadata {
		fields[key] = value
	}
	log.WithFields(fields).Warn("security event")
}

// RedisSink publishes events as JSON on a pub/sub channel.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
}

// NewRedisSink constructs a RedisSink.
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel, timeout: 2 * time.Second}
}

func (s *RedisSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.client == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).WithField("event_type", event.Type).Warn("events: marshal failed")
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if errPublish := s.client.Publish(pubCtx, s.channel, payload).Err(); errPublish != nil {
		log.WithError(errPublish).WithField("event_type", event.Type).Warn("events: redis publish failed")
	}
}
