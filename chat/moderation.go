package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/streamunity/modbridge/db"
	"github.com/streamunity/modbridge/telemetry"
)

// Action is a moderation decision on a persisted message.
type Action string

const (
	ActionDelete  Action = "DELETE"
	ActionApprove Action = "APPROVE"
)

// ParseAction validates a wire-level action string.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionDelete, ActionApprove:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown moderation action %q", s)
}

// Moderator applies moderation decisions to persisted messages and records
// the audit trail. It deliberately has no handle on transports or the
// broadcast sink: announcing the result is the caller's job, so the write
// path stays independent of connection health.
type Moderator struct {
	messages MessageStore
	audit    ModerationStore
	log      *slog.Logger
}

func NewModerator(messages MessageStore, audit ModerationStore) *Moderator {
	return &Moderator{
		messages: messages,
		audit:    audit,
		log:      slog.Default().With(slog.String("component", "moderator")),
	}
}

// Apply marks the message moderated (deleted only on DELETE, which flags the
// row rather than removing it) and appends one audit record, which it
// returns.
func (m *Moderator) Apply(ctx context.Context, messageID int64, action Action, moderatorID, reason string) (*db.ModerationAction, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}
	if _, err := m.messages.GetChatMessage(ctx, messageID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("message %d: %w", messageID, ErrNotFound)
		}
		return nil, fmt.Errorf("load message %d: %w", messageID, err)
	}
	if err := m.messages.MarkMessageModerated(ctx, messageID, action == ActionDelete); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("message %d: %w", messageID, ErrNotFound)
		}
		return nil, fmt.Errorf("moderate message %d: %w", messageID, err)
	}
	rec := &db.ModerationAction{
		ID:        uuid.NewString(),
		UserID:    moderatorID,
		MessageID: messageID,
		Action:    string(action),
		Reason:    reason,
	}
	if err := m.audit.InsertModerationAction(ctx, rec); err != nil {
		return nil, fmt.Errorf("record moderation action: %w", err)
	}
	switch action {
	case ActionDelete:
		if telemetry.ModerationDeletes != nil {
			telemetry.ModerationDeletes.Inc()
		}
	case ActionApprove:
		if telemetry.ModerationApproves != nil {
			telemetry.ModerationApproves.Inc()
		}
	}
	m.log.Info("moderation applied",
		slog.Int64("message_id", messageID),
		slog.String("action", string(action)),
		slog.String("moderator", moderatorID))
	return rec, nil
}
