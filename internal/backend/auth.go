package backend

import (
	"context"
	"net/http"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GetSession returns the current session, or nil when signed out. An
// expired session is dropped and reported as signed out.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	c.mu.Lock()
	sess := c.session
	expired := sess != nil && sess.Expired(c.now())
	if expired {
		c.session = nil
	}
	c.mu.Unlock()

	if expired {
		c.logger.Info("session expired", "user_id", sess.User.ID)
		c.notify(core.AuthSignedOut, nil)
		return nil, nil
	}
	if sess == nil {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

// SetSession installs a session obtained elsewhere, e.g. restored from disk.
func (c *Client) SetSession(sess *models.Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	return c.authenticate(ctx, "/api/auth/login", email, password)
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	return c.authenticate(ctx, "/api/auth/signup", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*models.Session, error) {
	var sess models.Session
	if err := c.call(ctx, http.MethodPost, path, "", credentials{Email: email, Password: password}, nil, &sess); err != nil {
		return nil, err
	}
	c.mu.Lock()
	stored := sess
	c.session = &stored
	c.mu.Unlock()

	c.logger.Info("signed in", "user_id", sess.User.ID)
	c.notify(core.AuthSignedIn, &sess)
	return &sess, nil
}

// SignOut forgets the session locally even when the gateway cannot be
// reached.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	var err error
	if sess != nil {
		err = c.call(ctx, http.MethodPost, "/api/auth/logout", sess.AccessToken, nil, nil, nil)
		if err != nil {
			c.logger.Warn("logout request failed", "error", err)
		}
	}
	c.notify(core.AuthSignedOut, nil)
	return err
}

func (c *Client) OnAuthStateChange(fn core.AuthListener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// notify calls listeners on the caller's goroutine, outside the lock.
func (c *Client) notify(event core.AuthEvent, sess *models.Session) {
	c.mu.Lock()
	fns := make([]core.AuthListener, 0, len(c.listeners))
	for i := 0; i < c.nextListener; i++ {
		if fn, ok := c.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		var copied *models.Session
		if sess != nil {
			s := *sess
			copied = &s
		}
		fn(event, copied)
	}
}
