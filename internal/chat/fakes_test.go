package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend is an in-memory core.Backend whose calls can be made to fail
// or block.
type fakeBackend struct {
	mu        sync.Mutex
	session   *models.Session
	listeners map[int]core.AuthListener
	nextID    int

	profiles []models.UserProfile
	messages []models.Message
	upserts  []models.ProfileUpsert

	upsertErr   error
	listErr     error
	insertErr   error
	historyErr  error
	setupCalls  int
	historyGate chan struct{}
	// historyWaiting receives the peer id when a fetch blocks on historyGate.
	historyWaiting chan string

	channels []*fakeChannel
	removed  []*fakeChannel
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{listeners: map[int]core.AuthListener{}}
}

func (f *fakeBackend) GetSession(ctx context.Context) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeBackend) signIn(id, email string) *models.Session {
	sess := &models.Session{AccessToken: "token-" + id, ExpiresAt: time.Now().Add(time.Hour), User: models.SessionUser{ID: id, Email: email}}
	f.mu.Lock()
	f.session = sess
	f.mu.Unlock()
	f.emit(core.AuthSignedIn, sess)
	return sess
}

func (f *fakeBackend) emit(ev core.AuthEvent, sess *models.Session) {
	f.mu.Lock()
	fns := make([]core.AuthListener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev, sess)
	}
}

func (f *fakeBackend) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	return f.signIn("id-"+email, email), nil
}

func (f *fakeBackend) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	return f.signIn("id-"+email, email), nil
}

func (f *fakeBackend) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.session = nil
	f.mu.Unlock()
	f.emit(core.AuthSignedOut, nil)
	return nil
}

func (f *fakeBackend) OnAuthStateChange(fn core.AuthListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeBackend) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeBackend) UpsertProfile(ctx context.Context, p models.ProfileUpsert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, p)
	return f.upsertErr
}

func (f *fakeBackend) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.UserProfile(nil), f.profiles...), nil
}

func (f *fakeBackend) InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	row := models.Message{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Content:     msg.Content,
		SenderID:    msg.SenderID,
		ReceiverID:  msg.ReceiverID,
		MessageType: msg.MessageType,
		FileName:    msg.FileName,
	}
	f.messages = append(f.messages, row)
	return &row, nil
}

func (f *fakeBackend) ListConversation(ctx context.Context, a, b string) ([]models.Message, error) {
	f.mu.Lock()
	gate, waiting := f.historyGate, f.historyWaiting
	f.mu.Unlock()
	if gate != nil {
		if waiting != nil {
			waiting <- b
		}
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	var out []models.Message
	for _, m := range f.messages {
		if m.Between(a, b) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeBackend) RunSetup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setupCalls++
	f.upsertErr, f.listErr, f.insertErr, f.historyErr = nil, nil, nil, nil
	return nil
}

func (f *fakeBackend) Channel(topic string, opts core.ChannelOptions) core.Channel {
	ch := &fakeChannel{topic: topic, opts: opts}
	f.mu.Lock()
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	return ch
}

func (f *fakeBackend) RemoveChannel(ch core.Channel) error {
	f.mu.Lock()
	f.removed = append(f.removed, ch.(*fakeChannel))
	f.mu.Unlock()
	return ch.Unsubscribe()
}

func (f *fakeBackend) channelList() (opened, removed []*fakeChannel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeChannel(nil), f.channels...), append([]*fakeChannel(nil), f.removed...)
}

// lastChannel returns the most recently opened channel on topic.
func (f *fakeBackend) lastChannel(topic string) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.channels) - 1; i >= 0; i-- {
		if f.channels[i].topic == topic {
			return f.channels[i]
		}
	}
	return nil
}

// fakeChannel delivers events synchronously on the caller's goroutine.
type fakeChannel struct {
	topic string
	opts  core.ChannelOptions

	mu         sync.Mutex
	presence   []func(models.PresenceState)
	changes    []changeSub
	status     func(core.SubscribeStatus, error)
	subscribed bool
	closed     bool
	tracked    []map[string]any
}

type changeSub struct {
	filter core.ChangeFilter
	fn     func(models.Change)
}

func (c *fakeChannel) Topic() string { return c.topic }

func (c *fakeChannel) OnPresenceSync(fn func(models.PresenceState)) core.Channel {
	c.mu.Lock()
	c.presence = append(c.presence, fn)
	c.mu.Unlock()
	return c
}

func (c *fakeChannel) OnChange(filter core.ChangeFilter, fn func(models.Change)) core.Channel {
	c.mu.Lock()
	c.changes = append(c.changes, changeSub{filter: filter, fn: fn})
	c.mu.Unlock()
	return c
}

func (c *fakeChannel) Subscribe(fn func(core.SubscribeStatus, error)) core.Channel {
	c.mu.Lock()
	c.status = fn
	c.subscribed = true
	c.mu.Unlock()
	return c
}

func (c *fakeChannel) Track(ctx context.Context, meta map[string]any) error {
	c.mu.Lock()
	c.tracked = append(c.tracked, meta)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) PresenceState() models.PresenceState { return nil }

func (c *fakeChannel) Unsubscribe() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) trackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracked)
}

func (c *fakeChannel) reportStatus(status core.SubscribeStatus, err error) {
	c.mu.Lock()
	fn := c.status
	c.mu.Unlock()
	if fn != nil {
		fn(status, err)
	}
}

func (c *fakeChannel) syncPresence(keys ...string) {
	state := models.PresenceState{}
	for _, k := range keys {
		state[k] = []map[string]any{{"online_at": "now"}}
	}
	c.mu.Lock()
	fns := append([]func(models.PresenceState){}, c.presence...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}

func (c *fakeChannel) emitChange(table string, typ models.ChangeType, record any) {
	raw, _ := json.Marshal(record)
	change := models.Change{Table: table, Type: typ, Record: raw}
	c.mu.Lock()
	subs := append([]changeSub{}, c.changes...)
	c.mu.Unlock()
	for _, s := range subs {
		if s.filter.Matches(change) {
			s.fn(change)
		}
	}
}

type fakeResponder struct {
	mu      sync.Mutex
	answer  string
	prompt  string
	history []string
	gate    chan struct{}
}

func (f *fakeResponder) Reply(ctx context.Context, prompt string, history []string) string {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompt, f.history = prompt, history
	return f.answer
}

type fakeArchiver struct {
	mu       sync.Mutex
	keys     []string
	fileName string
	data     []byte
}

func (f *fakeArchiver) Archive(ctx context.Context, userID, messageID, fileName, contentType string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, userID+"/"+messageID)
	f.fileName, f.data = fileName, data
	return nil
}

func schemaMissing() error {
	return &core.BackendError{Code: core.CodeUndefinedTable, Message: `relation "profiles" does not exist`}
}
