package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/echoes-blog/echoes/internal/fields"
	"github.com/echoes-blog/echoes/internal/httpclient"
)

const (
	systemFields = "/field/system/0"
	fieldPlugins = "plugins"
)

// Store persists the set of enabled plugin names.
type Store interface {
	LoadEnabled(ctx context.Context) ([]string, error)
	SaveEnabled(ctx context.Context, names []string) error
}

// BackendStore keeps the enabled set in the "plugins" system field.
type BackendStore struct {
	client *httpclient.Client
}

func NewStore(client *httpclient.Client) *BackendStore {
	return &BackendStore{client: client}
}

func (s *BackendStore) LoadEnabled(ctx context.Context) ([]string, error) {
	token, err := s.client.SystemToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get system token: %w", err)
	}

	var raw []fields.Field
	if err := s.client.Get(ctx, systemFields, &raw, httpclient.WithBearer(token)); err != nil {
		return nil, fmt.Errorf("failed to load system fields: %w", err)
	}

	f, ok := fields.Find(fields.Deserialize(raw), fieldPlugins, fields.TypeData)
	if !ok || f.Value == nil {
		return nil, nil
	}
	var names []string
	if err := f.Decode(&names); err != nil {
		return nil, fmt.Errorf("failed to decode enabled plugins: %w", err)
	}
	return names, nil
}

// SaveEnabled writes names as a JSON string body, the way the backend
// stores structured field values.
func (s *BackendStore) SaveEnabled(ctx context.Context, names []string) error {
	token, err := s.client.SystemToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get system token: %w", err)
	}

	sorted := append([]string{}, names...)
	sort.Strings(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/data/%s", systemFields, fieldPlugins)
	if err := s.client.Post(ctx, endpoint, string(data), nil, httpclient.WithBearer(token)); err != nil {
		return fmt.Errorf("failed to save enabled plugins: %w", err)
	}
	return nil
}

// MemoryStore is a Store for tests and for sites without a backend field.
type MemoryStore struct {
	mu    sync.Mutex
	names []string
}

func NewMemoryStore(names ...string) *MemoryStore {
	return &MemoryStore{names: names}
}

func (s *MemoryStore) LoadEnabled(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.names...), nil
}

func (s *MemoryStore) SaveEnabled(_ context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append([]string{}, names...)
	sort.Strings(s.names)
	return nil
}
