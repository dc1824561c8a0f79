// Package ksql issues one-time setup statements to a ksqlDB server over its
// REST API.
package ksql

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/edgeflare/stations/pkg/httputil"
	"go.uber.org/zap"
)

const contentType = "application/vnd.ksql.v1+json"

//go:embed statements/turnstile_summary.sql
var turnstileSummarySQL string

// TurnstileSummary creates the turnstile table over the turnstile topic and
// the per-station entry count derived from it.
var TurnstileSummary = Statement{
	Target: "TURNSTILE_SUMMARY",
	SQL:    turnstileSummarySQL,
}

// Statement is a setup statement together with the table or stream it
// creates. The statement is skipped when Target already exists.
type Statement struct {
	Target string
	SQL    string
}

// SetupError is returned when the server rejects a statement.
type SetupError struct {
	Err        error
	Target     string
	Message    string
	StatusCode int
}

func (e *SetupError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("ksql setup of %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("ksql setup of %s: status %d: %s", e.Target, e.StatusCode, e.Message)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Client talks to the ksqlDB REST endpoint.
type Client struct {
	logger  *zap.Logger
	baseURL string
}

// NewClient returns a client for the ksqlDB server at baseURL, for example
// http://localhost:8088.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

type request struct {
	StreamsProperties map[string]string `json:"streamsProperties"`
	KSQL              string            `json:"ksql"`
}

type entity struct {
	Type    string `json:"@type"`
	Tables  []item `json:"tables"`
	Streams []item `json:"streams"`
}

type item struct {
	Name string `json:"name"`
}

type errorMessage struct {
	Message string `json:"message"`
}

func (c *Client) post(ctx context.Context, req request, retry bool) ([]byte, error) {
	cfg := httputil.DefaultRequestConfig(http.MethodPost, c.baseURL+"/ksql")
	cfg.Logger = c.logger
	cfg.RetryEnabled = retry
	cfg.Headers = map[string][]string{
		"Content-Type": {contentType},
		"Accept":       {contentType},
	}
	if req.StreamsProperties == nil {
		req.StreamsProperties = map[string]string{}
	}
	resp, err := httputil.Request(ctx, cfg, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Exists reports whether a table or stream called name exists. Names are
// compared case-insensitively.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	for _, stmt := range []string{"LIST TABLES;", "LIST STREAMS;"} {
		body, err := c.post(ctx, request{KSQL: stmt}, true)
		if err != nil {
			return false, fmt.Errorf("%s: %w", stmt, err)
		}
		var entities []entity
		if err := json.Unmarshal(body, &entities); err != nil {
			return false, fmt.Errorf("decode %s response: %w", stmt, err)
		}
		for _, e := range entities {
			if contains(e.Tables, name) || contains(e.Streams, name) {
				return true, nil
			}
		}
	}
	return false, nil
}

func contains(items []item, name string) bool {
	for _, it := range items {
		if strings.EqualFold(it.Name, name) {
			return true
		}
	}
	return false
}

// Execute runs statement with the given streams properties. Statements are
// not retried because the server may have applied them before failing.
func (c *Client) Execute(ctx context.Context, statement string, props map[string]string) error {
	_, err := c.post(ctx, request{KSQL: statement, StreamsProperties: props}, false)
	return err
}

// Setup executes s unless its target already exists. Statements read their
// source topics from the earliest offset.
func (c *Client) Setup(ctx context.Context, s Statement) error {
	exists, err := c.Exists(ctx, s.Target)
	if err != nil {
		return &SetupError{Target: s.Target, Err: err}
	}
	if exists {
		c.logger.Info("KSQL target already exists", zap.String("target", s.Target))
		return nil
	}

	c.logger.Info("Executing KSQL statement", zap.String("target", s.Target))
	err = c.Execute(ctx, s.SQL, map[string]string{"ksql.streams.auto.offset.reset": "earliest"})
	if err == nil {
		c.logger.Info("KSQL target created", zap.String("target", s.Target))
		return nil
	}

	setupErr := &SetupError{Target: s.Target, Err: err}
	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) {
		setupErr.StatusCode = statusErr.StatusCode
		setupErr.Message = string(statusErr.Body)
		var msg errorMessage
		if json.Unmarshal(statusErr.Body, &msg) == nil && msg.Message != "" {
			setupErr.Message = msg.Message
		}
	}
	return setupErr
}
