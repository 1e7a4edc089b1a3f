package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/SupraChat/internal/config"
	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []models.Change
}

func (p *recordingPublisher) PublishChange(c models.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
}

func TestBuildDSN(t *testing.T) {
	_, err := buildDSN(&config.Config{})
	require.Error(t, err)

	dsn, err := buildDSN(&config.Config{DatabaseURL: "postgres://u:p@localhost/chat"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost/chat", dsn)

	_, err = buildDSN(&config.Config{DatabaseURL: "postgres://localhost/chat", SslCertPath: "/nonexistent/ca.pem"})
	require.Error(t, err)

	cert := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0o600))
	dsn, err = buildDSN(&config.Config{DatabaseURL: "postgres://localhost/chat", SslCertPath: cert})
	require.NoError(t, err)
	assert.Contains(t, dsn, "sslmode=verify-ca")
	assert.Contains(t, dsn, "sslrootcert=")
}

func TestTranslateUndefinedTable(t *testing.T) {
	err := translate(fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01", Message: `relation "profiles" does not exist`}))
	assert.True(t, core.IsSchemaMissing(err))

	plain := fmt.Errorf("boom")
	assert.Equal(t, plain, translate(plain))
	assert.NoError(t, translate(nil))
}

func TestMemoryClient_ProfilesAndChanges(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewMemoryClient(pub)
	ctx := context.Background()

	require.NoError(t, c.UpsertProfile(ctx, models.ProfileUpsert{ID: "u2", Email: "b@x.io", LastSeen: time.Now()}))
	require.NoError(t, c.UpsertProfile(ctx, models.ProfileUpsert{ID: "u1", Email: "a@x.io", LastSeen: time.Now()}))
	require.NoError(t, c.UpsertProfile(ctx, models.ProfileUpsert{ID: "u1", Email: "a@x.io", LastSeen: time.Now()}))

	list, err := c.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u1", list[0].ID)

	require.Len(t, pub.changes, 3)
	assert.Equal(t, models.ChangeInsert, pub.changes[0].Type)
	assert.Equal(t, models.ChangeUpdate, pub.changes[2].Type)
}

func TestMemoryClient_ConversationOrderAndPairing(t *testing.T) {
	c := NewMemoryClient(nil)
	ctx := context.Background()
	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	_, err := c.InsertMessage(ctx, models.NewMessage{Content: "one", SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)
	_, err = c.InsertMessage(ctx, models.NewMessage{Content: "other", SenderID: "u1", ReceiverID: "u3"})
	require.NoError(t, err)
	_, err = c.InsertMessage(ctx, models.NewMessage{Content: "two", SenderID: "u2", ReceiverID: "u1"})
	require.NoError(t, err)

	msgs, err := c.ListConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, models.MessageText, msgs[0].MessageType)
}

func TestMemoryClient_DroppedTableAndBootstrap(t *testing.T) {
	c := NewMemoryClient(nil)
	ctx := context.Background()
	c.DropTable("messages")

	_, err := c.InsertMessage(ctx, models.NewMessage{Content: "hi", SenderID: "u1", ReceiverID: "u2"})
	assert.True(t, core.IsSchemaMissing(err))

	require.NoError(t, c.Bootstrap(ctx))
	_, err = c.InsertMessage(ctx, models.NewMessage{Content: "hi", SenderID: "u1", ReceiverID: "u2"})
	assert.NoError(t, err)
}

func TestMemoryClient_DuplicateEmail(t *testing.T) {
	c := NewMemoryClient(nil)
	ctx := context.Background()
	require.NoError(t, c.CreateAuthUser(ctx, &models.AuthUser{ID: "u1", Email: "A@x.io", PasswordHash: "h"}))
	err := c.CreateAuthUser(ctx, &models.AuthUser{ID: "u2", Email: "a@x.io", PasswordHash: "h"})
	assert.True(t, core.IsBackendError(err, core.CodeUniqueViolation))

	u, err := c.GetAuthUserByEmail(ctx, "a@X.io")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)
}

func TestChangeListener_Resolve(t *testing.T) {
	rows := NewMemoryClient(nil)
	ctx := context.Background()
	msg, err := rows.InsertMessage(ctx, models.NewMessage{Content: "hello", SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)

	l := NewChangeListener("", rows, &recordingPublisher{}, nil)

	change, err := l.resolve(ctx, fmt.Sprintf(`{"table":"messages","type":"INSERT","id":%q}`, msg.ID))
	require.NoError(t, err)
	var got models.Message
	require.NoError(t, change.DecodeRecord(&got))
	assert.Equal(t, "hello", got.Content)

	change, err = l.resolve(ctx, `{"table":"profiles","type":"DELETE","id":"u9"}`)
	require.NoError(t, err)
	var old map[string]string
	require.NoError(t, json.Unmarshal(change.Old, &old))
	assert.Equal(t, "u9", old["id"])

	_, err = l.resolve(ctx, `{"table":"profiles","type":"UPDATE","id":"missing"}`)
	assert.Error(t, err)

	_, err = l.resolve(ctx, `not json`)
	assert.Error(t, err)
}
