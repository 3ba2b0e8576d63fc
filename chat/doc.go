// Package chat is the bot session manager: it establishes, supervises and
// tears down one long-lived chat connection per user, feeds inbound events
// through a persistence-and-broadcast pipeline, and exposes a command
// surface (send, moderate, disconnect) that is safe against races with
// connection state changes.
//
// The Registry owns the session map and is the only mutable shared
// structure; the Pipeline gives each session a bounded queue with a single
// consumer so per-channel ordering is preserved while sessions run in
// parallel. Moderation writes never touch the transport, and the broadcast
// Sink is fire and forget.
package chat
