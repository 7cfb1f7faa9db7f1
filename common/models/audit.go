package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditEventType string

const (
	EventCastingCallApproved          AuditEventType = "CastingCallApproved"
	EventCastingCallEditedAndApproved AuditEventType = "CastingCallEditedAndApproved"
	EventCastingCallRejected          AuditEventType = "CastingCallRejected"
)

// AuditEvent is an append-only record of an admin decision.
type AuditEvent struct {
	ID            uuid.UUID         `json:"id"`
	EventType     AuditEventType    `json:"eventType"`
	CastingCallID uuid.UUID         `json:"castingCallId"`
	ActorID       string            `json:"actorId"`
	Metadata      map[string]string `json:"metadata"`
	CreatedAt     time.Time         `json:"createdAt"`
}

const (
	OutcomeApplied  = "applied"
	OutcomeConflict = "conflict"
)
