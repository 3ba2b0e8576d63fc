package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/streamunity/modbridge/db"
	"github.com/streamunity/modbridge/telemetry"
)

// Pipeline normalizes, persists and broadcasts inbound chat events. One
// Pipeline serves all sessions; each session gets its own bounded queue and
// consumer so ordering holds per channel while sessions progress in
// parallel.
type Pipeline struct {
	store     MessageStore
	sink      Sink
	queueSize int
}

// NewPipeline builds the shared ingest pipeline. queueSize bounds each
// session's in-flight backlog.
func NewPipeline(store MessageStore, sink Sink, queueSize int) *Pipeline {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Pipeline{store: store, sink: sink, queueSize: queueSize}
}

// SessionInfo identifies the session an ingest queue serves. Room is the
// logical broadcast room, which is the owning user's channel login.
type SessionInfo struct {
	UserID       string
	PlatformID   string
	PlatformType string
	Room         string
}

// Ingest is one session's bounded queue plus its single consumer.
type Ingest struct {
	info  SessionInfo
	store MessageStore
	sink  Sink
	queue chan InboundMessage
	log   *slog.Logger
}

// OpenIngest creates the queue for a new session. The caller runs the
// consumer via Run and drives shutdown through the context.
func (p *Pipeline) OpenIngest(info SessionInfo) *Ingest {
	return &Ingest{
		info:  info,
		store: p.store,
		sink:  p.sink,
		queue: make(chan InboundMessage, p.queueSize),
		log: slog.Default().With(
			slog.String("component", "ingest"),
			slog.String("user_id", info.UserID),
			slog.String("room", info.Room),
		),
	}
}

// Enqueue hands an inbound event to the consumer. It never blocks: when the
// queue is full the event is dropped and counted, so a slow persistence
// layer cannot stall the transport's read loop or its reconnect handling.
func (in *Ingest) Enqueue(m InboundMessage) {
	select {
	case in.queue <- m:
	default:
		in.log.Warn("ingest queue full, dropping message", slog.String("username", m.Username))
		if telemetry.MessagesDropped != nil {
			telemetry.MessagesDropped.Inc()
		}
	}
}

// Run consumes the queue until ctx is cancelled. Events already queued when
// cancellation lands are abandoned; upstream re-delivery is not guaranteed
// anyway.
func (in *Ingest) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-in.queue:
			telemetry.TimeFunc(telemetry.IngestDuration, func() {
				in.process(ctx, m)
			})
		}
	}
}

// messageEvent is the payload of the "message" room broadcast.
type messageEvent struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	Message      string    `json:"message"`
	PlatformType string    `json:"platformType"`
	Badges       string    `json:"badges"`
	Emotes       string    `json:"emotes"`
	Color        string    `json:"color"`
	Timestamp    time.Time `json:"timestamp"`
}

func (in *Ingest) process(ctx context.Context, m InboundMessage) {
	rec := &db.ChatMessage{
		UserID:       in.info.UserID,
		PlatformID:   in.info.PlatformID,
		PlatformType: in.info.PlatformType,
		Username:     m.Username,
		DisplayName:  m.DisplayName,
		Message:      m.Text,
		Badges:       m.Badges,
		Emotes:       m.Emotes,
		Color:        m.Color,
	}
	if err := in.store.InsertChatMessage(ctx, rec); err != nil {
		// Dropped, not retried: per-channel ordering matters more than
		// complete delivery here.
		in.log.Error("failed to persist chat message, dropping", slog.Any("err", err))
		if telemetry.MessagesDropped != nil {
			telemetry.MessagesDropped.Inc()
		}
		return
	}
	in.sink.Publish(in.info.Room, "message", messageEvent{
		ID:           rec.ID,
		Username:     rec.Username,
		DisplayName:  rec.DisplayName,
		Message:      rec.Message,
		PlatformType: rec.PlatformType,
		Badges:       rec.Badges,
		Emotes:       rec.Emotes,
		Color:        rec.Color,
		Timestamp:    rec.CreatedAt,
	})
	if telemetry.MessagesIngested != nil {
		telemetry.MessagesIngested.Inc()
	}
}
