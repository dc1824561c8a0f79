package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/edgeflare/stations/pkg/httputil"
	"go.uber.org/zap"
)

const registryContentType = "application/vnd.schemaregistry.v1+json"

// Registry assigns ids to schemas under a subject.
type Registry interface {
	Register(ctx context.Context, subject string, s *Schema) (int32, error)
}

// KeySubject and ValueSubject follow the topic-name subject strategy.
func KeySubject(topic string) string   { return topic + "-key" }
func ValueSubject(topic string) string { return topic + "-value" }

type cacheKey struct {
	subject string
	schema  string
}

// RegistryClient talks to a Confluent-compatible schema registry over REST.
// Registered ids are cached for the lifetime of the client.
type RegistryClient struct {
	baseURL string
	logger  *zap.Logger
	mu      sync.Mutex
	ids     map[cacheKey]int32
}

// NewRegistryClient returns a client for the registry at baseURL.
func NewRegistryClient(baseURL string, logger *zap.Logger) *RegistryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		ids:     make(map[cacheKey]int32),
	}
}

// Register registers s under subject, returning the registry's schema id.
// Registering an already known schema returns its existing id.
func (c *RegistryClient) Register(ctx context.Context, subject string, s *Schema) (int32, error) {
	key := cacheKey{subject: subject, schema: s.String()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.ids[key]; ok {
		return id, nil
	}

	reqCfg := httputil.DefaultRequestConfig(http.MethodPost,
		fmt.Sprintf("%s/subjects/%s/versions", c.baseURL, url.PathEscape(subject)))
	reqCfg.Logger = c.logger
	reqCfg.Headers = map[string][]string{
		"Content-Type": {registryContentType},
		"Accept":       {registryContentType},
	}

	resp, err := httputil.Request(ctx, reqCfg, map[string]string{"schema": key.schema})
	if err != nil {
		return 0, fmt.Errorf("register schema for subject %s: %w", subject, err)
	}

	var body struct {
		ID int32 `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return 0, fmt.Errorf("decode registry response for subject %s: %w", subject, err)
	}

	c.ids[key] = body.ID
	c.logger.Info("Schema registered", zap.String("subject", subject), zap.Int32("id", body.ID))
	return body.ID, nil
}

// LocalRegistry hands out sequential ids without a registry server. It is used
// when no registry URL is configured; readers decode with their local schema
// and do not resolve ids.
type LocalRegistry struct {
	mu   sync.Mutex
	ids  map[cacheKey]int32
	next int32
}

func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{ids: make(map[cacheKey]int32), next: 1}
}

func (r *LocalRegistry) Register(_ context.Context, subject string, s *Schema) (int32, error) {
	key := cacheKey{subject: subject, schema: s.String()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[key]; ok {
		return id, nil
	}
	id := r.next
	r.next++
	r.ids[key] = id
	return id, nil
}
