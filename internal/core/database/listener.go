package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

// ChangeChannel is the NOTIFY channel written by suprachat_notify_change().
const ChangeChannel = "suprachat_changes"

// ChangePublisher receives resolved row changes.
type ChangePublisher interface {
	PublishChange(change models.Change)
}

// notification is the payload of one NOTIFY.
type notification struct {
	Table string            `json:"table"`
	Type  models.ChangeType `json:"type"`
	ID    string            `json:"id"`
}

// ChangeListener holds a dedicated connection on LISTEN and turns each
// notification into a models.Change carrying the current row.
type ChangeListener struct {
	dsn       string
	rows      core.DbClient
	publisher ChangePublisher
	logger    *slog.Logger
	retry     time.Duration
}

func NewChangeListener(dsn string, rows core.DbClient, publisher ChangePublisher, logger *slog.Logger) *ChangeListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeListener{dsn: dsn, rows: rows, publisher: publisher, logger: logger, retry: 2 * time.Second}
}

// Run listens until ctx is cancelled, reconnecting after connection errors.
func (l *ChangeListener) Run(ctx context.Context) {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("change listener disconnected", "error", err, "retry_in", l.retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retry):
		}
	}
}

func (l *ChangeListener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("listening for row changes", "channel", ChangeChannel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		change, err := l.resolve(ctx, n.Payload)
		if err != nil {
			l.logger.Warn("dropping row change", "payload", n.Payload, "error", err)
			continue
		}
		l.publisher.PublishChange(change)
	}
}

// resolve loads the row a notification refers to. Deletes carry only the id.
func (l *ChangeListener) resolve(ctx context.Context, payload string) (models.Change, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return models.Change{}, fmt.Errorf("decode payload: %w", err)
	}
	change := models.Change{Table: n.Table, Type: n.Type}

	if n.Type == models.ChangeDelete {
		old, err := json.Marshal(map[string]string{"id": n.ID})
		if err != nil {
			return models.Change{}, err
		}
		change.Old = old
		return change, nil
	}

	var row any
	switch n.Table {
	case "profiles":
		p, err := l.rows.GetProfile(ctx, n.ID)
		if err != nil {
			return models.Change{}, fmt.Errorf("load profile %s: %w", n.ID, err)
		}
		if p == nil {
			return models.Change{}, fmt.Errorf("profile %s no longer exists", n.ID)
		}
		row = p
	case "messages":
		m, err := l.rows.GetMessage(ctx, n.ID)
		if err != nil {
			return models.Change{}, fmt.Errorf("load message %s: %w", n.ID, err)
		}
		if m == nil {
			return models.Change{}, fmt.Errorf("message %s no longer exists", n.ID)
		}
		row = m
	default:
		return models.Change{}, fmt.Errorf("unknown table %q", n.Table)
	}
	record, err := json.Marshal(row)
	if err != nil {
		return models.Change{}, err
	}
	change.Record = record
	return change, nil
}
