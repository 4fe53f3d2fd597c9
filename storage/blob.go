package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// ObjectStore uploads note attachments and student files to blob storage.
type ObjectStore struct {
	client    *azblob.Client
	container string
}

// NewObjectStore creates an ObjectStore for the given container.
func NewObjectStore(connStr, container string) (*ObjectStore, error) {
	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return &ObjectStore{client: client, container: container}, nil
}

// Upload streams the object to blob storage under key and returns its public URL.
func (o *ObjectStore) Upload(ctx context.Context, key string, body io.Reader) (string, error) {
	if _, err := o.client.UploadStream(ctx, o.container, key, body, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(o.client.URL(), "/"), o.container, key), nil
}

// BlobKey builds the storage key for an uploaded file:
// {studentId}/{timestamp}_{randomId}_{sanitizedFilename}.
func BlobKey(studentID, randomID, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%d_%s_%s", studentID, now.Unix(), randomID, SanitizeFilename(filename))
}

// SanitizeFilename strips path separators and characters that are unsafe in a
// blob key, collapsing them to underscores.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "file"
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
