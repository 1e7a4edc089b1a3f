package models

import (
	"encoding/json"
	"time"
)

// AISenderID marks a message as produced by the assistant rather than a peer.
const AISenderID = "gemini-ai"

// MessageType classifies message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// PresenceStatus is derived from presence snapshots and never stored.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// AuthUser is the gateway's credential record.
type AuthUser struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// SessionUser is the identity carried by a session.
type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an authenticated identity token bundle issued by the backend.
type Session struct {
	AccessToken string      `json:"access_token"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        SessionUser `json:"user"`
}

// Expired reports whether the session is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || (!s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt))
}

// UserProfile is a row of the profiles table as seen by a client.
type UserProfile struct {
	ID          string         `db:"id" json:"id"`
	Email       string         `db:"email" json:"email"`
	DisplayName *string        `db:"display_name" json:"display_name,omitempty"`
	AvatarURL   *string        `db:"avatar_url" json:"avatar_url,omitempty"`
	LastSeen    *time.Time     `db:"last_seen" json:"last_seen,omitempty"`
	Status      PresenceStatus `json:"status,omitempty"`
}

// ProfileUpsert is what a client writes about itself on every sign-in.
type ProfileUpsert struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	LastSeen time.Time `json:"last_seen"`
}

// Message is a direct message between two users, or an assistant reply.
type Message struct {
	ID          string      `db:"id" json:"id"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	Content     string      `db:"content" json:"content"`
	SenderID    string      `db:"sender_id" json:"sender_id"`
	ReceiverID  string      `db:"receiver_id" json:"receiver_id,omitempty"`
	IsAI        bool        `db:"is_ai" json:"is_ai,omitempty"`
	MessageType MessageType `db:"message_type" json:"message_type,omitempty"`
	FileName    *string     `db:"file_name" json:"file_name,omitempty"`
}

// Between reports whether m belongs to the conversation of a and b in either
// direction.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// NewMessage is the insert payload for the messages table.
type NewMessage struct {
	Content     string      `json:"content"`
	SenderID    string      `json:"sender_id"`
	ReceiverID  string      `json:"receiver_id"`
	MessageType MessageType `json:"message_type"`
	FileName    *string     `json:"file_name,omitempty"`
}

// ChangeType is the row operation carried by a Change.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	// ChangeAny matches every operation in a subscription filter.
	ChangeAny ChangeType = "*"
)

// Change is a row-change event delivered over a realtime channel.
type Change struct {
	Table  string          `json:"table"`
	Type   ChangeType      `json:"type"`
	Record json.RawMessage `json:"record,omitempty"`
	Old    json.RawMessage `json:"old,omitempty"`
}

// DecodeRecord unmarshals the new row into v.
func (c Change) DecodeRecord(v any) error {
	return json.Unmarshal(c.Record, v)
}

// PresenceState maps a presence key to the metadata tracked under it.
type PresenceState map[string][]map[string]any

// Has reports whether key is currently present.
func (p PresenceState) Has(key string) bool {
	_, ok := p[key]
	return ok
}
