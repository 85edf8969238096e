// Package secrets resolves secret:// configuration references against Secret Manager.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultLocalFile = ".secrets.local"

// ErrNotFound is returned when neither Secret Manager nor the local file knows the reference.
var ErrNotFound = errors.New("secrets: secret not found")

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver looks up session keys and API keys referenced from configuration. Values are
// cached for the process lifetime; a developer file stands in when Secret Manager is
// unreachable.
type Resolver struct {
	client     accessor
	ownsClient bool
	project    string
	localPath  string
	logger     *zap.Logger

	localOnce sync.Once
	local     map[string]string
	localErr  error

	mu    sync.Mutex
	cache map[string]string
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithProject sets the project used when a reference carries no ?project= override.
func WithProject(projectID string) Option {
	return func(r *Resolver) { r.project = strings.TrimSpace(projectID) }
}

// WithLocalFile overrides the developer fallback file. An empty path disables it.
func WithLocalFile(path string) Option {
	return func(r *Resolver) { r.localPath = strings.TrimSpace(path) }
}

// WithClient injects a Secret Manager client; the resolver does not close it.
func WithClient(client accessor) Option {
	return func(r *Resolver) { r.client = client }
}

// New builds a Resolver. When no client is injected one is dialled with clientOpts; a dial
// failure leaves the resolver in local-file mode.
func New(ctx context.Context, opts []Option, clientOpts ...option.ClientOption) *Resolver {
	r := &Resolver{
		localPath: defaultLocalFile,
		logger:    zap.NewNop(),
		cache:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil && r.project != "" {
		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			r.logger.Warn("secrets: secret manager unavailable, using local file", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r
}

// Close releases the dialled client.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret returns the value behind a secret://name[?version=N&project=P] reference.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	key := parsed.name + "#" + parsed.version

	r.mu.Lock()
	if value, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return value, nil
	}
	r.mu.Unlock()

	project := parsed.project
	if project == "" {
		project = r.project
	}
	if project != "" && r.client != nil {
		resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, parsed.name, parsed.version)
		resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		switch {
		case err == nil && resp.GetPayload() != nil:
			value := string(resp.GetPayload().GetData())
			r.store(key, value)
			return value, nil
		case err == nil:
			return "", fmt.Errorf("secrets: empty payload for %s", resource)
		case !canFallBack(err):
			return "", fmt.Errorf("secrets: access %s: %w", resource, err)
		}
		r.logger.Debug("secrets: falling back to local file", zap.String("secret", parsed.name), zap.Error(err))
	}

	value, ok := r.lookupLocal(parsed.name)
	if !ok {
		if r.localErr != nil {
			return "", r.localErr
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, parsed.name)
	}
	r.store(key, value)
	return value, nil
}

func (r *Resolver) store(key, value string) {
	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()
}

func (r *Resolver) lookupLocal(name string) (string, bool) {
	r.localOnce.Do(func() {
		r.local = map[string]string{}
		if r.localPath == "" {
			return
		}
		file, err := os.Open(r.localPath)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			r.localErr = fmt.Errorf("secrets: open %s: %w", r.localPath, err)
			return
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			k = strings.TrimSpace(k)
			if parsed, err := parseRef(k); err == nil {
				k = parsed.name
			}
			r.local[k] = strings.TrimSpace(v)
		}
		if err := scanner.Err(); err != nil {
			r.localErr = fmt.Errorf("secrets: read %s: %w", r.localPath, err)
		}
	})
	value, ok := r.local[name]
	return value, ok
}

type secretRef struct {
	name    string
	version string
	project string
}

func parseRef(ref string) (secretRef, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	return secretRef{name: name, version: version, project: strings.TrimSpace(query.Get("project"))}, nil
}

func canFallBack(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
