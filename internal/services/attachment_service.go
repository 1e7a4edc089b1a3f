package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/markdave123-py/SupraChat/internal/core"
)

// AttachmentService mirrors sent attachments to object storage.
type AttachmentService struct {
	storage core.ObjectClient
	bucket  string
}

func NewAttachmentService(storage core.ObjectClient, bucket string) *AttachmentService {
	return &AttachmentService{storage: storage, bucket: bucket}
}

// Archive uploads one attachment and returns its object URL.
func (s *AttachmentService) Archive(ctx context.Context, userID, messageID, fileName, contentType string, data []byte) (string, error) {
	if s == nil || s.storage == nil {
		return "", fmt.Errorf("attachment archive not configured")
	}
	url, err := s.storage.UploadFile(ctx, s.bucket, s.objectKey(userID, messageID, fileName), data, contentType)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", fileName, err)
	}
	return url, nil
}

// objectKey creates a consistent S3 key layout.
func (s *AttachmentService) objectKey(userID, messageID, filename string) string {
	filename = path.Base(strings.TrimSpace(filename))
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("users", userID, "attachments", messageID, filename)
}
