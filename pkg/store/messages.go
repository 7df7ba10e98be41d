package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// AppendMessage inserts one message into the conversation log. If ID or
// CreatedAt are unset the store assigns them (ULID, UTC now). The message
// is immutable after this call except for delivery/acknowledgement stamps.
func (s *Store) AppendMessage(ctx context.Context, m *protocol.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.ID == "" {
		m.ID = s.newULID(m.CreatedAt)
	}

	var metadata any
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return storeErr("marshal message metadata", err)
		}
		metadata = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, agent_id, direction, kind, content, metadata, reply_to, created_at, delivered_at, acknowledged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AgentID, string(m.Direction), string(m.Kind), m.Content,
		metadata, nullString(m.ReplyTo), formatTime(m.CreatedAt),
		formatTimePtr(m.DeliveredAt), formatTimePtr(m.AcknowledgedAt),
	)
	if err != nil {
		return storeErr("append message", err)
	}
	return nil
}

const (
	defaultConversationLimit = 100
	maxConversationLimit     = 500
)

// Conversation returns one page of an agent's message log, oldest first.
// A non-nil before restricts the page to messages created strictly earlier,
// so callers walk backward through history by passing the oldest CreatedAt
// from the previous page. HasMore reports whether older messages remain.
func (s *Store) Conversation(ctx context.Context, agentID string, limit int, before *time.Time) (*protocol.ConversationThread, error) {
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	if limit > maxConversationLimit {
		limit = maxConversationLimit
	}

	query := `SELECT id, agent_id, direction, kind, content, metadata, reply_to, created_at, delivered_at, acknowledged_at
	          FROM messages WHERE agent_id = ?`
	args := []any{agentID}
	if before != nil {
		query += " AND created_at < ?"
		args = append(args, formatTime(*before))
	}
	// Fetch one extra row newest-first: the extra tells us whether older
	// history exists, then the page is reversed to oldest-first.
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query conversation", err)
	}
	defer func() { _ = rows.Close() }()

	var page []protocol.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query conversation", err)
	}

	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	return &protocol.ConversationThread{
		AgentID:  agentID,
		Messages: page,
		HasMore:  hasMore,
	}, nil
}

// PendingMessages returns undelivered outbound messages for an agent in
// conversation order, oldest first.
func (s *Store) PendingMessages(ctx context.Context, agentID string) ([]protocol.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, direction, kind, content, metadata, reply_to, created_at, delivered_at, acknowledged_at
		 FROM messages
		 WHERE agent_id = ? AND direction = ? AND delivered_at IS NULL
		 ORDER BY created_at, id`,
		agentID, string(protocol.ToAgent),
	)
	if err != nil {
		return nil, storeErr("query pending messages", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []protocol.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, m)
	}
	return pending, rows.Err()
}

// MarkDelivered stamps a message as handed to the worker's adapter.
func (s *Store) MarkDelivered(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL`,
		formatTime(time.Now()), messageID,
	)
	if err != nil {
		return storeErr("mark delivered", err)
	}
	return nil
}

// MarkAcknowledged stamps a message as acknowledged by the worker.
func (s *Store) MarkAcknowledged(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET acknowledged_at = ? WHERE id = ?`,
		formatTime(time.Now()), messageID,
	)
	if err != nil {
		return storeErr("mark acknowledged", err)
	}
	return nil
}

// GetMessage fetches one message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*protocol.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, direction, kind, content, metadata, reply_to, created_at, delivered_at, acknowledged_at
		 FROM messages WHERE id = ?`, messageID,
	)
	m, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (protocol.Message, error) {
	var (
		m         protocol.Message
		direction string
		kind      string
		metadata  sql.NullString
		replyTo   sql.NullString
		createdAt string
		delivered sql.NullString
		acked     sql.NullString
	)
	if err := row.Scan(&m.ID, &m.AgentID, &direction, &kind, &m.Content, &metadata, &replyTo, &createdAt, &delivered, &acked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, ErrNotFound
		}
		return m, storeErr("scan message", err)
	}
	m.Direction = protocol.MessageDirection(direction)
	m.Kind = protocol.MessageKind(kind)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return m, storeErr("unmarshal message metadata", err)
		}
	}
	m.ReplyTo = replyTo.String
	t, err := parseTime(createdAt)
	if err != nil {
		return m, storeErr("parse message timestamp", err)
	}
	m.CreatedAt = t
	m.DeliveredAt = parseTimePtr(delivered)
	m.AcknowledgedAt = parseTimePtr(acked)
	return m, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
