package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/shrimpsizemoose/semla/internal/models"
)

var ErrInvalidAttachment = errors.New("attachment needs a field key and a file name")

type Store interface {
	Add(ctx context.Context, submissionID int64, fieldKey, filename string, r io.Reader) (models.Attachment, error)
	List(ctx context.Context, submissionID int64) ([]models.Attachment, error)
	DeleteAll(ctx context.Context, submissionID int64) error
}

// passedMimeTypes are binary types handed to the user as downloads.
var passedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"application/pdf": true,
}

func IsPassed(mimeType string) bool {
	return passedMimeTypes[mimeType]
}

const safeFilenameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ._-0123456789"

// SafeFileName keeps at most 80 safe characters of name. A name with nothing
// left, or only "." or "..", becomes "file" and a leading dash is replaced
// with an underscore.
func SafeFileName(name string) string {
	if len(name) > 80 {
		name = name[:80]
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if strings.IndexByte(safeFilenameChars, name[i]) >= 0 {
			b.WriteByte(name[i])
		}
	}
	safe := b.String()
	if safe == "" || safe == "." || safe == ".." {
		return "file"
	}
	if safe[0] == '-' {
		return "_" + safe[1:]
	}
	return safe
}

// FSStore keeps files under base/<submission>/<field key>/<file name>.
type FSStore struct {
	base string
}

func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "./data/attachments"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	return &FSStore{base: base}, nil
}

func (s *FSStore) dir(submissionID int64) string {
	return filepath.Join(s.base, strconv.FormatInt(submissionID, 10))
}

func (s *FSStore) Add(ctx context.Context, submissionID int64, fieldKey, filename string, r io.Reader) (models.Attachment, error) {
	if fieldKey == "" || filename == "" {
		return models.Attachment{}, ErrInvalidAttachment
	}
	key := SafeFileName(fieldKey)
	name := SafeFileName(filename)

	dst := filepath.Join(s.dir(submissionID), key, name)
	if rel, err := filepath.Rel(s.dir(submissionID), dst); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return models.Attachment{}, fmt.Errorf("%w: %q/%q escapes submission directory", ErrInvalidAttachment, fieldKey, filename)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to create attachment: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(dst)
		return models.Attachment{}, fmt.Errorf("failed to write attachment: %w", err)
	}
	return s.describe(submissionID, key, name)
}

func (s *FSStore) describe(submissionID int64, key, name string) (models.Attachment, error) {
	path := filepath.Join(s.dir(submissionID), key, name)
	info, err := os.Stat(path)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to stat attachment: %w", err)
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to detect attachment type: %w", err)
	}
	mime := strings.SplitN(mtype.String(), ";", 2)[0]
	return models.Attachment{
		SubmissionID: submissionID,
		FieldKey:     key,
		Filename:     name,
		Size:         info.Size(),
		MimeType:     mime,
		Passed:       IsPassed(mime),
	}, nil
}

func (s *FSStore) List(ctx context.Context, submissionID int64) ([]models.Attachment, error) {
	keys, err := os.ReadDir(s.dir(submissionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	var files []models.Attachment
	for _, key := range keys {
		if !key.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.dir(submissionID), key.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to list attachments: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			a, err := s.describe(submissionID, key.Name(), entry.Name())
			if err != nil {
				return nil, err
			}
			files = append(files, a)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].FieldKey != files[j].FieldKey {
			return files[i].FieldKey < files[j].FieldKey
		}
		return files[i].Filename < files[j].Filename
	})
	return files, nil
}

func (s *FSStore) DeleteAll(ctx context.Context, submissionID int64) error {
	if err := os.RemoveAll(s.dir(submissionID)); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}
	return nil
}
