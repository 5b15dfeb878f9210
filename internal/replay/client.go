// File: internal/replay/client.go

// Package replay re-creates exported artifacts in the destination
// system through its GraphQL API: one authenticate mutation up front,
// then one create mutation per artifact.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	authenticateMutation = `mutation AuthenticateUser($email: String!, $password: String!) {
  authenticateUser(email: $email, password: $password) {
    accessToken
    refreshToken
    userId
    tenantId
  }
}`

	createTemplateMutation = `mutation CreateTemplate($name: String!, $detail: String, $tenantId: ID!) {
  createTemplate(name: $name, detail: $detail, tenantId: $tenantId) {
    id
  }
}`
)

// Token is the destination credential set returned by the authenticate
// mutation. Held in memory for one replay run; never persisted.
type Token struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
	TenantID     string `json:"tenantId"`
}

// GraphQLError is one entry from a response's errors array. Any entry
// at all makes the whole call a hard failure.
type GraphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path"`
}

// APIError wraps a non-empty GraphQL errors array.
type APIError struct {
	Operation string
	Errors    []GraphQLError
}

func (e *APIError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, g := range e.Errors {
		msgs = append(msgs, g.Message)
	}
	return fmt.Sprintf("graphql operation %s failed: %s", e.Operation, strings.Join(msgs, "; "))
}

// Client talks to the destination GraphQL endpoint. Calls are paced by
// a shared rate limiter so a large replay does not hammer the API.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds a client for the destination API.
func NewClient(baseURL string, ratePerSecond float64, timeout time.Duration, logger *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}

	return &Client{
		http:    http,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		logger:  logger.Named("replay"),
	}
}

// Authenticate exchanges destination credentials for a token. There is
// no refresh path; a replay run is expected to finish well inside the
// token's lifetime.
func (c *Client) Authenticate(ctx context.Context, email, password string) (*Token, error) {
	var payload struct {
		AuthenticateUser Token `json:"authenticateUser"`
	}
	err := c.execute(ctx, "AuthenticateUser", authenticateMutation, map[string]any{
		"email":    email,
		"password": password,
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("destination authentication failed: %w", err)
	}
	if payload.AuthenticateUser.AccessToken == "" {
		return nil, fmt.Errorf("destination authentication returned no access token")
	}

	c.logger.Info("Authenticated against destination API.",
		zap.String("user_id", payload.AuthenticateUser.UserID),
		zap.String("tenant_id", payload.AuthenticateUser.TenantID),
	)
	return &payload.AuthenticateUser, nil
}

// CreateTemplate issues one create mutation and returns the remote id.
func (c *Client) CreateTemplate(ctx context.Context, token *Token, name, detail string) (string, error) {
	var payload struct {
		CreateTemplate struct {
			ID string `json:"id"`
		} `json:"createTemplate"`
	}
	err := c.executeAuthorized(ctx, token, "CreateTemplate", createTemplateMutation, map[string]any{
		"name":     name,
		"detail":   detail,
		"tenantId": token.TenantID,
	}, &payload)
	if err != nil {
		return "", fmt.Errorf("failed to create template %q: %w", name, err)
	}

	c.logger.Info("Created destination template.",
		zap.String("name", name),
		zap.String("remote_id", payload.CreateTemplate.ID),
	)
	return payload.CreateTemplate.ID, nil
}

func (c *Client) executeAuthorized(ctx context.Context, token *Token, operation, query string, variables map[string]any, out any) error {
	return c.run(ctx, operation, query, variables, out, token.AccessToken)
}

func (c *Client) execute(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	return c.run(ctx, operation, query, variables, out, "")
}

func (c *Client) run(ctx context.Context, operation, query string, variables map[string]any, out any, bearer string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body := map[string]any{
		"operationName": operation,
		"query":         query,
		"variables":     variables,
	}

	req := c.http.R().SetContext(ctx).SetBody(body)
	if bearer != "" {
		req.SetHeader("Authorization", "Bearer "+bearer)
	}

	resp, err := req.Post("/graphql")
	if err != nil {
		return fmt.Errorf("graphql operation %s failed: %w", operation, err)
	}
	if resp.IsError() {
		return fmt.Errorf("graphql operation %s returned HTTP %d: %s", operation, resp.StatusCode(), resp.String())
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []GraphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("graphql operation %s returned unparseable body: %w", operation, err)
	}
	if len(envelope.Errors) > 0 {
		return &APIError{Operation: operation, Errors: envelope.Errors}
	}
	if out != nil && envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("graphql operation %s returned unexpected data shape: %w", operation, err)
		}
	}
	return nil
}
