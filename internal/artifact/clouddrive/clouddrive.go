// Package clouddrive implements the secondary artifact backend over the
// Google Drive API. Artifacts live as files named by key inside one
// folder.
package clouddrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/driftline/driftline/internal/artifact"
	"github.com/driftline/driftline/internal/errclass"
)

// BackendName identifies this backend in configuration and results.
const BackendName = "clouddrive"

// Config holds cloud drive settings.
type Config struct {
	CredentialsFile string // service account JSON
	FolderID        string // parent folder for all artifacts
}

// Backend stores artifacts as Drive files.
type Backend struct {
	svc      *drive.Service
	folderID string
}

// New creates a cloud drive backend.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.CredentialsFile == "" || cfg.FolderID == "" {
		return nil, errors.New("cloud drive credentials file and folder ID are required")
	}
	svc, err := drive.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(drive.DriveFileScope))
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return &Backend{svc: svc, folderID: cfg.FolderID}, nil
}

func (b *Backend) Name() string { return BackendName }

// Upload creates the file, or updates it in place when the key already
// exists so re-persisting a key overwrites prior content.
func (b *Backend) Upload(ctx context.Context, key string, data []byte) error {
	id, err := b.findFile(ctx, key)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return err
	}

	if id != "" {
		_, err = b.svc.Files.Update(id, &drive.File{}).
			Media(bytes.NewReader(data)).
			Context(ctx).Do()
		if err != nil {
			return classify(fmt.Errorf("updating drive file %s: %w", key, err), err)
		}
		return nil
	}

	_, err = b.svc.Files.Create(&drive.File{Name: key, Parents: []string{b.folderID}}).
		Media(bytes.NewReader(data)).
		Fields("id").
		Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("creating drive file %s: %w", key, err), err)
	}
	return nil
}

func (b *Backend) Fetch(ctx context.Context, key string) ([]byte, error) {
	id, err := b.findFile(ctx, key)
	if err != nil {
		return nil, err
	}
	resp, err := b.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, classify(fmt.Errorf("downloading drive file %s: %w", key, err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(fmt.Errorf("reading drive file %s: %w", key, err), err)
	}
	return data, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	id, err := b.findFile(ctx, key)
	if err != nil {
		return err
	}
	if err := b.svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return classify(fmt.Errorf("deleting drive file %s: %w", key, err), err)
	}
	return nil
}

// PublicURL shares the file with anyone-with-link and returns the content
// link.
func (b *Backend) PublicURL(ctx context.Context, key string) (string, error) {
	id, err := b.findFile(ctx, key)
	if err != nil {
		return "", err
	}
	_, err = b.svc.Permissions.Create(id, &drive.Permission{Type: "anyone", Role: "reader"}).
		Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("sharing drive file %s: %w", key, err), err)
	}
	f, err := b.svc.Files.Get(id).Fields("webContentLink").Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("reading drive link for %s: %w", key, err), err)
	}
	return f.WebContentLink, nil
}

// findFile resolves a key to a Drive file ID within the artifact folder.
func (b *Backend) findFile(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeQuery(key), b.folderID)
	list, err := b.svc.Files.List().
		Q(query).
		Fields("files(id)").
		PageSize(1).
		Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("listing drive files for %s: %w", key, err), err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
	}
	return list.Files[0].Id, nil
}

// escapeQuery escapes single quotes and backslashes for a Drive query
// literal.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// classify maps a Drive API response onto the shared taxonomy. The raw
// error is inspected for the status code; the wrapped one carries context.
func classify(wrapped, raw error) error {
	var apiErr *googleapi.Error
	if errors.As(raw, &apiErr) {
		return errclass.Backend(errclass.ClassifyHTTPStatus(apiErr.Code), wrapped)
	}
	return errclass.Backend(errclass.Transient, wrapped)
}
