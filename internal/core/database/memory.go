package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

// MemoryClient is an in-process DbClient used when DATABASE_URL is
// "memory://" and by tests. It publishes row changes directly, standing in
// for the NOTIFY trigger.
type MemoryClient struct {
	mu        sync.Mutex
	publisher ChangePublisher
	now       func() time.Time

	dropped  map[string]bool
	users    map[string]models.AuthUser // by email
	profiles map[string]models.UserProfile
	messages []models.Message
}

var _ core.DbClient = (*MemoryClient)(nil)

func NewMemoryClient(publisher ChangePublisher) *MemoryClient {
	return &MemoryClient{
		publisher: publisher,
		now:       time.Now,
		dropped:   map[string]bool{},
		users:     map[string]models.AuthUser{},
		profiles:  map[string]models.UserProfile{},
	}
}

// SetPublisher attaches the change sink after construction.
func (c *MemoryClient) SetPublisher(p ChangePublisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publisher = p
}

// DropTable simulates a database whose table was never created.
func (c *MemoryClient) DropTable(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped[table] = true
}

func (c *MemoryClient) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = map[string]bool{}
	return nil
}

func (c *MemoryClient) Close() error { return nil }

func (c *MemoryClient) checkTable(table string) error {
	if c.dropped[table] {
		return &core.BackendError{
			Code:    core.CodeUndefinedTable,
			Message: fmt.Sprintf("relation %q does not exist", table),
		}
	}
	return nil
}

func (c *MemoryClient) publish(table string, typ models.ChangeType, row any) {
	if c.publisher == nil {
		return
	}
	record, err := json.Marshal(row)
	if err != nil {
		return
	}
	c.publisher.PublishChange(models.Change{Table: table, Type: typ, Record: record})
}

func (c *MemoryClient) CreateAuthUser(ctx context.Context, user *models.AuthUser) error {
	if user == nil {
		return errors.New("nil user")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkTable("auth_users"); err != nil {
		return err
	}
	email := strings.ToLower(user.Email)
	if _, ok := c.users[email]; ok {
		return &core.BackendError{Code: core.CodeUniqueViolation, Message: "duplicate key value violates unique constraint"}
	}
	u := *user
	u.Email = email
	if u.CreatedAt.IsZero() {
		u.CreatedAt = c.now()
	}
	c.users[email] = u
	return nil
}

func (c *MemoryClient) GetAuthUserByEmail(ctx context.Context, email string) (*models.AuthUser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkTable("auth_users"); err != nil {
		return nil, err
	}
	u, ok := c.users[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (c *MemoryClient) UpsertProfile(ctx context.Context, p models.ProfileUpsert) error {
	c.mu.Lock()
	if err := c.checkTable("profiles"); err != nil {
		c.mu.Unlock()
		return err
	}
	existing, ok := c.profiles[p.ID]
	typ := models.ChangeUpdate
	if !ok {
		existing = models.UserProfile{ID: p.ID}
		typ = models.ChangeInsert
	}
	lastSeen := p.LastSeen
	existing.Email = p.Email
	existing.LastSeen = &lastSeen
	c.profiles[p.ID] = existing
	c.mu.Unlock()

	c.publish("profiles", typ, existing)
	return nil
}

func (c *MemoryClient) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkTable("profiles"); err != nil {
		return nil, err
	}
	out := make([]models.UserProfile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (c *MemoryClient) GetProfile(ctx context.Context, id string) (*models.UserProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkTable("profiles"); err != nil {
		return nil, err
	}
	p, ok := c.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *MemoryClient) InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	c.mu.Lock()
	if err := c.checkTable("messages"); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageText
	}
	m := models.Message{
		ID:          uuid.NewString(),
		CreatedAt:   c.now(),
		Content:     msg.Content,
		SenderID:    msg.SenderID,
		ReceiverID:  msg.ReceiverID,
		MessageType: msg.MessageType,
		FileName:    msg.FileName,
	}
	c.messages = append(c.messages, m)
	c.mu.Unlock()

	c.publish("messages", models.ChangeInsert, m)
	return &m, nil
}

func (c *MemoryClient) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkTable("messages"); err != nil {
		return nil, err
	}
	for _, m := range c.messages {
		if m.ID == id {
			m := m
			return &m, nil
		}
	}
	return nil, nil
}

func (c *MemoryClient) ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkTable("messages"); err != nil {
		return nil, err
	}
	out := []models.Message{}
	for _, m := range c.messages {
		if m.Between(userA, userB) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
