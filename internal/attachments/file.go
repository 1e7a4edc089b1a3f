package attachments

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/SupraChat/internal/models"
)

// File is a local file ready to be sent.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Type is the message type the file is sent as.
func (f *File) Type() models.MessageType { return Classify(f.ContentType) }

// DataURI is the message content for the file.
func (f *File) DataURI() string { return EncodeDataURI(f.ContentType, f.Data) }

// Load reads a whole file, refusing anything larger than maxBytes.
func Load(path string, maxBytes int) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if maxBytes > 0 && info.Size() > int64(maxBytes) {
		return nil, fmt.Errorf("%s is %d bytes, the limit is %d", filepath.Base(path), info.Size(), maxBytes)
	}

	data, err := io.ReadAll(fh)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	name := filepath.Base(path)
	return &File{Name: name, ContentType: DetectContentType(name, data), Data: data}, nil
}

// maxNameAttempts bounds the numbered names Save tries before giving up.
const maxNameAttempts = 1000

// Save writes the attachment carried by msg into dir and returns the path.
// An existing file is never replaced: a taken name gets a numeric suffix,
// as in "report (1).txt".
func Save(msg models.Message, dir string) (string, error) {
	if msg.MessageType != models.MessageImage && msg.MessageType != models.MessageFile {
		return "", fmt.Errorf("message %s has no attachment", msg.ID)
	}
	_, data, err := DecodeDataURI(msg.Content)
	if err != nil {
		return "", err
	}
	name := "attachment-" + msg.ID
	if msg.FileName != nil {
		switch base := filepath.Base(*msg.FileName); base {
		case ".", "..", string(filepath.Separator):
		default:
			name = base
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	fh, path, err := createUnique(dir, name)
	if err != nil {
		return "", err
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := fh.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// createUnique opens a new file named name in dir, or the first free
// numbered variant of it.
func createUnique(dir, name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return fh, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s in %s", name, dir)
}
