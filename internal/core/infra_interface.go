package core

import (
	"context"

	"github.com/markdave123-py/SupraChat/internal/models"
)

// DbClient defines all persistence operations the gateway needs.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	CreateAuthUser(ctx context.Context, user *models.AuthUser) error
	GetAuthUserByEmail(ctx context.Context, email string) (*models.AuthUser, error)

	UpsertProfile(ctx context.Context, p models.ProfileUpsert) error
	ListProfiles(ctx context.Context) ([]models.UserProfile, error)
	GetProfile(ctx context.Context, id string) (*models.UserProfile, error)

	InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error)

	// Bootstrap creates any missing tables. It is the remediation for a
	// schema-missing error.
	Bootstrap(ctx context.Context) error

	Close() error
}

// ObjectClient stores attachment copies in S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
}
