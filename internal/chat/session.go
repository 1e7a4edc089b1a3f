package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

// SessionSnapshot is a copy of the session controller's state.
type SessionSnapshot struct {
	State        State
	Session      *models.Session
	Peers        []models.UserProfile
	TableMissing bool
	// Notice is the last non-fatal error worth showing, if any.
	Notice string
}

// UserID is the signed-in user's id, or "".
func (s SessionSnapshot) UserID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.User.ID
}

// SessionController owns the session and the peer list, and drives the
// Auth/Syncing/Chatting state machine.
type SessionController struct {
	backend core.Backend
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	ctx          context.Context
	state        State
	session      *models.Session
	peers        []models.UserProfile
	presence     models.PresenceState
	tableMissing bool
	notice       string
	// epoch increments on every SessionObtained/SessionLost; sync results
	// from an older epoch are dropped.
	epoch    uint64
	stopAuth func()

	observers observers[SessionSnapshot]
}

func NewSessionController(backend core.Backend, logger *slog.Logger) *SessionController {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionController{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		ctx:     context.Background(),
		state:   StateAuth,
	}
}

// Start subscribes to auth-state changes and runs the first Initialize.
func (c *SessionController) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	if c.stopAuth == nil {
		c.stopAuth = c.backend.OnAuthStateChange(c.onAuthStateChange)
	}
	c.mu.Unlock()
	c.Initialize(ctx)
}

// Stop removes the auth-state subscription.
func (c *SessionController) Stop() {
	c.mu.Lock()
	stop := c.stopAuth
	c.stopAuth = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Subscribe registers fn for every state change. fn runs synchronously and
// must not call back into the controller.
func (c *SessionController) Subscribe(fn func(SessionSnapshot)) (unsubscribe func()) {
	return c.observers.add(fn)
}

func (c *SessionController) Snapshot() SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *SessionController) snapshotLocked() SessionSnapshot {
	s := SessionSnapshot{
		State:        c.state,
		Peers:        append([]models.UserProfile(nil), c.peers...),
		TableMissing: c.tableMissing,
		Notice:       c.notice,
	}
	if c.session != nil {
		copied := *c.session
		s.Session = &copied
	}
	return s
}

func (c *SessionController) notify() {
	c.observers.publish(c.Snapshot)
}

// fire applies ev; callers hold c.mu.
func (c *SessionController) fire(ev Event) bool {
	next, err := Transition(c.state, ev)
	if err != nil {
		c.logger.Debug("ignored session event", "error", err)
		return false
	}
	switch ev {
	case EventSessionObtained:
		c.epoch++
		c.tableMissing = false
		c.presence = nil
		c.notice = ""
	case EventSessionLost:
		c.epoch++
		c.session = nil
		c.peers = nil
		c.presence = nil
		c.tableMissing = false
	case EventSchemaMissingDetected:
		c.tableMissing = true
	}
	if next != c.state {
		c.logger.Info("session state changed", "from", c.state, "to", next, "event", ev)
	}
	c.state = next
	return true
}

func (c *SessionController) onAuthStateChange(event core.AuthEvent, sess *models.Session) {
	if sess == nil {
		c.lose()
		return
	}
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	c.initializeWith(ctx, sess)
}

func (c *SessionController) lose() {
	c.mu.Lock()
	c.fire(EventSessionLost)
	c.mu.Unlock()
	c.notify()
}

// Initialize reads the current session and, when there is one, syncs the
// own profile and the peer list. It never fails: schema-missing raises the
// flag and other errors become the notice.
func (c *SessionController) Initialize(ctx context.Context) {
	sess, err := c.backend.GetSession(ctx)
	if err != nil {
		c.logger.Warn("get session failed", "error", err)
	}
	if sess == nil {
		c.lose()
		return
	}
	c.initializeWith(ctx, sess)
}

func (c *SessionController) initializeWith(ctx context.Context, sess *models.Session) {
	c.mu.Lock()
	copied := *sess
	c.session = &copied
	c.fire(EventSessionObtained)
	epoch := c.epoch
	c.mu.Unlock()
	c.notify()

	user := sess.User
	var (
		profiles                 []models.UserProfile
		upsertErr, fetchErr      error
		upsertMissing, fetchMiss bool
	)
	// Both calls run even when the other fails.
	var g errgroup.Group
	g.Go(func() error {
		upsertErr = c.backend.UpsertProfile(ctx, models.ProfileUpsert{ID: user.ID, Email: user.Email, LastSeen: c.now().UTC()})
		upsertMissing = core.IsSchemaMissing(upsertErr)
		return nil
	})
	g.Go(func() error {
		profiles, fetchErr = c.backend.ListProfiles(ctx)
		fetchMiss = core.IsSchemaMissing(fetchErr)
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.logger.Debug("dropping sync result of a superseded session", "user_id", user.ID)
		return
	}
	if upsertMissing || fetchMiss {
		c.fire(EventSchemaMissingDetected)
	}
	if upsertErr != nil && !upsertMissing {
		c.logger.Warn("profile upsert failed", "user_id", user.ID, "error", upsertErr)
		c.notice = fmt.Sprintf("Could not update your profile: %v", upsertErr)
	}
	if fetchErr != nil && !fetchMiss {
		c.logger.Warn("profile fetch failed", "error", fetchErr)
		c.notice = fmt.Sprintf("Could not load users: %v", fetchErr)
	}
	if fetchErr == nil {
		c.peers = RecomputePresence(ExcludeSelf(profiles, user.ID), c.presence)
	}
	c.fire(EventSyncCompleted)
	c.mu.Unlock()
	c.notify()
}

// SignIn authenticates; the resulting auth-state change runs Initialize.
func (c *SessionController) SignIn(ctx context.Context, email, password string) error {
	_, err := c.backend.SignInWithPassword(ctx, email, password)
	return err
}

// SignUp registers a new account and signs in.
func (c *SessionController) SignUp(ctx context.Context, email, password string) error {
	_, err := c.backend.SignUp(ctx, email, password)
	return err
}

// SignOut ends the session. The local state returns to Auth even when the
// backend call fails.
func (c *SessionController) SignOut(ctx context.Context) error {
	err := c.backend.SignOut(ctx)
	c.mu.Lock()
	stillIn := c.state != StateAuth
	c.mu.Unlock()
	if stillIn {
		c.lose()
	}
	return err
}

// MarkSchemaMissing records that a backend table does not exist.
func (c *SessionController) MarkSchemaMissing() {
	c.mu.Lock()
	changed := !c.tableMissing && c.fire(EventSchemaMissingDetected)
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// RunSetup asks the backend to create its schema and then re-initializes.
func (c *SessionController) RunSetup(ctx context.Context) error {
	if err := c.backend.RunSetup(ctx); err != nil {
		c.logger.Warn("schema setup failed", "error", err)
		return fmt.Errorf("run setup: %w", err)
	}
	c.Initialize(ctx)
	return nil
}

// ApplyPresence recomputes every peer's status from a presence snapshot.
func (c *SessionController) ApplyPresence(state models.PresenceState) {
	c.mu.Lock()
	c.presence = state
	if c.state != StateChatting {
		c.mu.Unlock()
		return
	}
	c.peers = RecomputePresence(c.peers, state)
	c.mu.Unlock()
	c.notify()
}

// RefreshPeers refetches the whole peer list and replaces it.
func (c *SessionController) RefreshPeers(ctx context.Context) {
	c.mu.Lock()
	epoch, state := c.epoch, c.state
	selfID := ""
	if c.session != nil {
		selfID = c.session.User.ID
	}
	c.mu.Unlock()
	if state != StateChatting || selfID == "" {
		return
	}

	profiles, err := c.backend.ListProfiles(ctx)
	if core.IsSchemaMissing(err) {
		c.MarkSchemaMissing()
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Warn("profile refresh failed", "error", err)
		c.notice = fmt.Sprintf("Could not load users: %v", err)
	} else {
		c.peers = RecomputePresence(ExcludeSelf(profiles, selfID), c.presence)
	}
	c.mu.Unlock()
	c.notify()
}

// ClearNotice drops the current notice.
func (c *SessionController) ClearNotice() {
	c.mu.Lock()
	had := c.notice != ""
	c.notice = ""
	c.mu.Unlock()
	if had {
		c.notify()
	}
}
