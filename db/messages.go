package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ChatMessage is one normalized inbound chat event. Rows are never physically
// deleted; moderation only flips the is_moderated/is_deleted flags.
type ChatMessage struct {
	ID           int64
	UserID       string
	PlatformID   string
	PlatformType string
	Username     string
	DisplayName  string
	Message      string
	Badges       string
	Emotes       string
	Color        string
	IsModerated  bool
	IsDeleted    bool
	CreatedAt    time.Time
}

// ModerationAction is one append-only audit entry for a moderation decision.
type ModerationAction struct {
	ID        string
	UserID    string // moderator
	MessageID int64
	Action    string // DELETE | APPROVE
	Reason    string
	CreatedAt time.Time
}

// InsertChatMessage persists a message and fills in its generated id and
// created_at timestamp.
func (s *Store) InsertChatMessage(ctx context.Context, m *ChatMessage) error {
	row := s.DB.QueryRowContext(ctx,
		`INSERT INTO chat_messages (user_id, platform_id, platform_type, username, display_name, message, badges, emotes, color)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at`,
		m.UserID, m.PlatformID, m.PlatformType, m.Username, m.DisplayName, m.Message, m.Badges, m.Emotes, m.Color)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// GetChatMessage returns a single message by id, or ErrNotFound.
func (s *Store) GetChatMessage(ctx context.Context, id int64) (*ChatMessage, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, COALESCE(platform_id,''), COALESCE(platform_type,''), COALESCE(username,''),
		        COALESCE(display_name,''), COALESCE(message,''), COALESCE(badges,''), COALESCE(emotes,''),
		        COALESCE(color,''), is_moderated, is_deleted, created_at
		 FROM chat_messages WHERE id=$1`, id)
	var m ChatMessage
	if err := row.Scan(&m.ID, &m.UserID, &m.PlatformID, &m.PlatformType, &m.Username,
		&m.DisplayName, &m.Message, &m.Badges, &m.Emotes, &m.Color, &m.IsModerated, &m.IsDeleted, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// GetChatMessages returns a user's messages, newest first, capped at limit.
func (s *Store) GetChatMessages(ctx context.Context, userID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, COALESCE(platform_id,''), COALESCE(platform_type,''), COALESCE(username,''),
		        COALESCE(display_name,''), COALESCE(message,''), COALESCE(badges,''), COALESCE(emotes,''),
		        COALESCE(color,''), is_moderated, is_deleted, created_at
		 FROM chat_messages WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.PlatformID, &m.PlatformType, &m.Username,
			&m.DisplayName, &m.Message, &m.Badges, &m.Emotes, &m.Color, &m.IsModerated, &m.IsDeleted, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessageModerated flips the moderation flags on a message. is_deleted is
// only ever set by a DELETE action; APPROVE leaves it false.
func (s *Store) MarkMessageModerated(ctx context.Context, id int64, deleted bool) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE chat_messages SET is_moderated=TRUE, is_deleted=$1 WHERE id=$2`, deleted, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertModerationAction appends an audit entry and fills in created_at.
func (s *Store) InsertModerationAction(ctx context.Context, a *ModerationAction) error {
	row := s.DB.QueryRowContext(ctx,
		`INSERT INTO moderation_actions (id, user_id, message_id, action, reason)
		 VALUES ($1,$2,$3,$4,$5) RETURNING created_at`,
		a.ID, a.UserID, a.MessageID, a.Action, a.Reason)
	if err := row.Scan(&a.CreatedAt); err != nil {
		return fmt.Errorf("insert moderation action: %w", err)
	}
	return nil
}

// ListModerationActions returns the audit trail for a message, oldest first.
func (s *Store) ListModerationActions(ctx context.Context, messageID int64) ([]ModerationAction, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, message_id, action, COALESCE(reason,''), created_at
		 FROM moderation_actions WHERE message_id=$1 ORDER BY created_at ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ModerationAction
	for rows.Next() {
		var a ModerationAction
		if err := rows.Scan(&a.ID, &a.UserID, &a.MessageID, &a.Action, &a.Reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
