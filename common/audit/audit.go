// Package audit keeps the append-only trail of admin decisions on casting
// calls. Events are written once and never updated or deleted.
package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"digitaltwin/common/models"
	"digitaltwin/common/telemetry"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
)

var tracer = telemetry.GetTracer("digitaltwin/common/audit")

type Log interface {
	Record(ctx context.Context, event *models.AuditEvent) error
	ListForCastingCall(ctx context.Context, castingCallID uuid.UUID) ([]models.AuditEvent, error)
}

// NewEvent fills in the id and timestamp of an event.
func NewEvent(eventType models.AuditEventType, castingCallID uuid.UUID, actorID string, metadata map[string]string) *models.AuditEvent {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &models.AuditEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		CastingCallID: castingCallID,
		ActorID:       actorID,
		Metadata:      metadata,
		CreatedAt:     time.Now().UTC(),
	}
}

type ClickHouseLog struct {
	conn clickhouse.Conn
}

func NewClickHouseLog(conn clickhouse.Conn) *ClickHouseLog {
	return &ClickHouseLog{conn: conn}
}

func (l *ClickHouseLog) Record(ctx context.Context, event *models.AuditEvent) error {
	ctx, span := tracer.Start(ctx, "ClickHouseLog.Record")
	defer span.End()
	span.SetAttributes(
		telemetry.String("audit.event_type", string(event.EventType)),
		telemetry.String("casting_call.id", event.CastingCallID.String()),
	)

	if err := l.conn.Exec(ctx, `
		INSERT INTO audit_events (id, event_type, casting_call_id, actor_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.EventType), event.CastingCallID, event.ActorID, event.Metadata, event.CreatedAt,
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (l *ClickHouseLog) ListForCastingCall(ctx context.Context, castingCallID uuid.UUID) ([]models.AuditEvent, error) {
	rows, err := l.conn.Query(ctx, `
		SELECT id, event_type, casting_call_id, actor_id, metadata, created_at
		FROM audit_events
		WHERE casting_call_id = ?
		ORDER BY created_at, id`, castingCallID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var eventType string
		if err := rows.Scan(&e.ID, &eventType, &e.CastingCallID, &e.ActorID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.EventType = models.AuditEventType(eventType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryLog is an in-process Log for single-binary runs and tests.
type MemoryLog struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Record(_ context.Context, event *models.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *event)
	return nil
}

func (l *MemoryLog) ListForCastingCall(_ context.Context, castingCallID uuid.UUID) ([]models.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.AuditEvent
	for _, e := range l.events {
		if e.CastingCallID == castingCallID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Events returns every recorded event in insertion order.
func (l *MemoryLog) Events() []models.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.AuditEvent(nil), l.events...)
}
