package core

import (
	"context"

	"github.com/markdave123-py/SupraChat/internal/models"
)

// AuthEvent names an auth-state transition pushed by the backend client.
type AuthEvent string

const (
	AuthSignedIn  AuthEvent = "SIGNED_IN"
	AuthSignedOut AuthEvent = "SIGNED_OUT"
)

// AuthListener receives auth-state changes. session is nil after sign-out.
type AuthListener func(event AuthEvent, session *models.Session)

// AuthClient is the session half of the backend client.
type AuthClient interface {
	GetSession(ctx context.Context) (*models.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	SignUp(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context) error
	// OnAuthStateChange registers fn and returns the function that removes it.
	OnAuthStateChange(fn AuthListener) (unsubscribe func())
}

// ProfileStore covers the profiles table.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p models.ProfileUpsert) error
	ListProfiles(ctx context.Context) ([]models.UserProfile, error)
}

// MessageStore covers the messages table.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error)
	// ListConversation returns every message between a and b in either
	// direction, oldest first.
	ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error)
}

// SubscribeStatus is reported to the callback given to Channel.Subscribe.
type SubscribeStatus string

const (
	Subscribed    SubscribeStatus = "SUBSCRIBED"
	ChannelError  SubscribeStatus = "CHANNEL_ERROR"
	ChannelClosed SubscribeStatus = "CLOSED"
)

// ChannelOptions configures a realtime channel before it is subscribed.
type ChannelOptions struct {
	// PresenceKey is the key this client's presence is tracked under.
	PresenceKey string
}

// ChangeFilter selects row changes by table and operation.
type ChangeFilter struct {
	Table string
	Event models.ChangeType
}

// Matches reports whether c passes the filter.
func (f ChangeFilter) Matches(c models.Change) bool {
	if f.Table != c.Table {
		return false
	}
	return f.Event == "" || f.Event == models.ChangeAny || f.Event == c.Type
}

// Channel is a realtime subscription delivering presence and row-change
// events. Handlers are registered before Subscribe and run on the channel's
// delivery goroutine.
type Channel interface {
	Topic() string
	OnPresenceSync(fn func(state models.PresenceState)) Channel
	OnChange(filter ChangeFilter, fn func(change models.Change)) Channel
	Subscribe(fn func(status SubscribeStatus, err error)) Channel
	Track(ctx context.Context, meta map[string]any) error
	PresenceState() models.PresenceState
	// Unsubscribe stops delivery and returns once no handler is running.
	Unsubscribe() error
}

// Realtime creates and removes channels.
type Realtime interface {
	Channel(topic string, opts ChannelOptions) Channel
	// RemoveChannel unsubscribes ch and forgets it, so a later channel on the
	// same topic does not receive duplicate deliveries.
	RemoveChannel(ch Channel) error
}

// Backend is everything the chat controllers consume from the hosted
// platform.
type Backend interface {
	AuthClient
	ProfileStore
	MessageStore
	Realtime
	// RunSetup asks the platform to create its schema.
	RunSetup(ctx context.Context) error
}
