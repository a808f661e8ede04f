package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// accessor is the subset of *secretmanager.Client used by Manager.
type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Manager reads the latest version of secrets from Google Secret Manager.
type Manager struct {
	client  accessor
	project string
}

// NewManager opens a Secret Manager client for project.
func NewManager(ctx context.Context, project string, opts ...option.ClientOption) (*Manager, error) {
	if strings.TrimSpace(project) == "" {
		return nil, errors.New("secret: gcp store needs a project")
	}
	c, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secret: secretmanager client: %w", err)
	}
	return &Manager{client: c, project: project}, nil
}

// VersionName returns the resource name of the latest version of name.
// Names that already are resource paths ("projects/...") are used as is, with
// "/versions/latest" appended when no version is given.
func (m *Manager) VersionName(name string) string {
	if strings.HasPrefix(name, "projects/") {
		if strings.Contains(name, "/versions/") {
			return name
		}
		return name + "/versions/latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", m.project, name)
}

// Get implements Store.
func (m *Manager) Get(ctx context.Context, name string) (string, error) {
	resp, err := m.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: m.VersionName(name)})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("secret: access %s: %w", name, err)
	}
	return string(resp.GetPayload().GetData()), nil
}

// Close releases the client.
func (m *Manager) Close() error { return m.client.Close() }
