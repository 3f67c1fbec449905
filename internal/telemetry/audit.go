package telemetry

import (
	"context"
	"log/slog"
	"time"
)

const auditSchemaVersion = 2

// Audit actions recorded for membership and moderation changes.
const (
	ActionGroupCreated       = "group_created"
	ActionParticipantAdded   = "participant_added"
	ActionParticipantRemoved = "participant_removed"
	ActionParticipantLeft    = "participant_left"
	ActionMessageDeleted     = "message_deleted"
	ActionAuditTest          = "audit_test"
)

// Publisher is the broker side of the audit trail.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditRecord describes one moderation or membership change.
type AuditRecord struct {
	Action         string
	ActorID        string
	ConversationID string
	TargetUserID   string
	MessageID      string
	Role           string
	Detail         string
}

// AuditEmitter publishes membership and moderation audit records.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *slog.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	ActorID       string       `json:"actor_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level          string `json:"level"`
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id,omitempty"`
	TargetUserID   string `json:"target_user_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Role           string `json:"role,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *slog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

// Emit publishes rec under the configured routing key. Failures are logged,
// never returned.
func (e *AuditEmitter) Emit(ctx context.Context, level, requestID string, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}

	e.log.Debug("audit emit", "level", level, "action", rec.Action,
		"conversation_id", rec.ConversationID, "actor_id", rec.ActorID, "request_id", requestID)
	envelope := AuditEnvelope{
		SchemaVersion: auditSchemaVersion,
		EventType:     "messaging_audit",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		ActorID:       rec.ActorID,
		Payload: AuditPayload{
			Level:          level,
			Action:         rec.Action,
			ConversationID: rec.ConversationID,
			TargetUserID:   rec.TargetUserID,
			MessageID:      rec.MessageID,
			Role:           rec.Role,
			Detail:         rec.Detail,
		},
	}

	if err := e.publisher.Publish(context.WithoutCancel(ctx), e.routingKey, envelope); err != nil {
		e.log.Warn("audit publish failed", "action", rec.Action, "request_id", requestID, "error", err)
	}
}
