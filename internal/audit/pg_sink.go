package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/civic-access/civic-access/internal/platform/db"
)

// PGSink persists entries in the audit_entries table.
type PGSink struct {
	db db.Querier
}

// NewPGSink constructs a PostgreSQL sink.
func NewPGSink(q db.Querier) *PGSink {
	return &PGSink{db: q}
}

const insertEntrySQL = `INSERT INTO audit_entries
	(id, action, actor_id, resource_type, resource_id, before_state, after_state, details, ip, user_agent, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`

const queryEntriesSQL = `SELECT id, action, actor_id, resource_type, resource_id, before_state, after_state, details, ip, user_agent, occurred_at
FROM audit_entries
WHERE ($1::uuid IS NULL OR actor_id = $1)
  AND ($2::text IS NULL OR resource_id = $2)
  AND ($3::text IS NULL OR resource_type = $3)
  AND ($4::text IS NULL OR action = $4)
  AND ($5::timestamptz IS NULL OR occurred_at >= $5)
  AND ($6::timestamptz IS NULL OR occurred_at <= $6)
ORDER BY occurred_at DESC, id DESC
LIMIT $7`

// Append inserts e. Replays of the same entry id are ignored.
func (s *PGSink) Append(ctx context.Context, e Entry) error {
	args, err := insertArgs(e)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, insertEntrySQL, args...); err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// Query returns matching entries newest first.
func (s *PGSink) Query(ctx context.Context, f Filters) ([]Entry, error) {
	rows, err := s.db.Query(ctx, queryEntriesSQL, queryArgs(f)...)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, f.Limit)
	for rows.Next() {
		var (
			e                     Entry
			actor                 pgtype.UUID
			resType, resID        pgtype.Text
			before, after, detail []byte
			ip, ua                pgtype.Text
		)
		if err := rows.Scan(&e.ID, &e.Action, &actor, &resType, &resID, &before, &after, &detail, &ip, &ua, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if actor.Valid {
			id := uuid.UUID(actor.Bytes)
			e.ActorID = &id
		}
		e.ResourceType = resType.String
		e.ResourceID = resID.String
		e.BeforeState = rawOrNil(before)
		e.AfterState = rawOrNil(after)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Details); err != nil {
				return nil, fmt.Errorf("audit: decode details: %w", err)
			}
		}
		e.IP = ip.String
		e.UserAgent = ua.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate entries: %w", err)
	}
	return entries, nil
}

func insertArgs(e Entry) ([]any, error) {
	var details []byte
	if len(e.Details) > 0 {
		encoded, err := json.Marshal(e.Details)
		if err != nil {
			return nil, fmt.Errorf("audit: encode details: %w", err)
		}
		details = encoded
	}
	return []any{
		e.ID,
		e.Action,
		toPgUUID(e.ActorID),
		optionalText(e.ResourceType),
		optionalText(e.ResourceID),
		jsonArg(e.BeforeState),
		jsonArg(e.AfterState),
		jsonArg(details),
		optionalText(e.IP),
		optionalText(e.UserAgent),
		e.OccurredAt,
	}, nil
}

func queryArgs(f Filters) []any {
	return []any{
		toPgUUID(f.ActorID),
		optionalText(f.ResourceID),
		optionalText(f.ResourceType),
		optionalText(f.Action),
		toPgTime(f.From),
		toPgTime(f.To),
		int32(f.Limit),
	}
}

func toPgUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

var _ Sink = (*PGSink)(nil)
