// Package event defines the structured events emitted by every successful
// boundary operation, used for audit, analytics, and operator tooling.
package event

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Type identifies the kind of protocol event.
type Type string

const (
	TypeHarvestRebalance    Type = "harvest_rebalance"
	TypeClaimReward         Type = "claim_reward"
	TypeOracleSlash         Type = "oracle_slash"
	TypeAchievementVerified Type = "achievement_verified"
	TypeStakeStarted        Type = "stake_started"
	TypeStakeEnded          Type = "stake_ended"
	TypeEmergencyPause      Type = "emergency_pause"
	TypeEmergencyResume     Type = "emergency_resume"
)

// Event carries actor identity, the amounts and ids involved, and a
// timestamp for one protocol state transition.
type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Actor     string `json:"actor"`
	Oracle    string `json:"oracle,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// New creates an event with a fresh ID.
func New(t Type, actor string, ts int64) Event {
	return Event{ID: uuid.NewString(), Type: t, Actor: actor, Timestamp: ts}
}

// Emitter publishes protocol events.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// LogEmitter writes events as structured log lines.
type LogEmitter struct {
	log zerolog.Logger
}

// NewLogEmitter creates an emitter backed by the given logger.
func NewLogEmitter(log zerolog.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

// Emit logs the event with structured fields.
func (e *LogEmitter) Emit(_ context.Context, ev Event) {
	evt := e.log.Info().
		Str("event_id", ev.ID).
		Str("event_type", string(ev.Type)).
		Str("actor", ev.Actor).
		Int64("timestamp", ev.Timestamp)
	if ev.Oracle != "" {
		evt = evt.Str("oracle", ev.Oracle)
	}
	if ev.Amount != 0 {
		evt = evt.Uint64("amount", ev.Amount)
	}
	if ev.Reference != "" {
		evt = evt.Str("reference", ev.Reference)
	}
	if ev.Reason != "" {
		evt = evt.Str("reason", ev.Reason)
	}
	evt.Msg("protocol event")
}

// Recorder captures emitted events in memory. Used by tests.
type Recorder struct {
	Events []Event
}

// Emit appends the event to the recorder.
func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.Events = append(r.Events, ev)
}
