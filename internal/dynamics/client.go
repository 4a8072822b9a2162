package dynamics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
)

const maxResponseBytes = 4 << 20

// Client is the live Web API client.
type Client struct {
	endpoints  EndpointSource
	tokens     TokenProvider
	httpClient *http.Client
}

var _ ContactAPI = (*Client)(nil)

// NewClient creates a Client. A non-positive timeout means 30 seconds.
func NewClient(endpoints EndpointSource, tokens TokenProvider, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoints:  endpoints,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type collection struct {
	Value []Contact `json:"value"`
}

// FindByEmail looks a contact up by its primary email.
func (c *Client) FindByEmail(ctx context.Context, email string) (*Contact, error) {
	if strings.TrimSpace(email) == "" {
		return nil, apperrors.NewValidationError("email", "is required")
	}

	var result collection
	if _, err := c.do(ctx, http.MethodGet, findByEmailPath(email), nil, &result); err != nil {
		return nil, err
	}
	if len(result.Value) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &result.Value[0], nil
}

// Create posts a new contact and returns it as stored.
func (c *Client) Create(ctx context.Context, in ContactInput) (*Contact, error) {
	var created Contact
	header, err := c.do(ctx, http.MethodPost, "contacts", in, &created)
	if err != nil {
		return nil, err
	}
	if created.ContactID == "" {
		// 204 without representation: the id only comes back in the header.
		created.Apply(in)
		created.ContactID = idFromEntityID(header.Get("OData-EntityId"))
	}
	log.Info().Str("contact_id", created.ContactID).Msg("Dynamics: Contact created")
	return &created, nil
}

// Update patches the supplied fields of contact id.
func (c *Client) Update(ctx context.Context, id string, in ContactInput) (*Contact, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewValidationError("contactid", "is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewValidationError("contactid", "must be a GUID")
	}

	var updated Contact
	if _, err := c.do(ctx, http.MethodPatch, entityPath(id), in, &updated); err != nil {
		return nil, err
	}
	if updated.ContactID == "" {
		updated.Apply(in)
		updated.ContactID = id
	}
	log.Info().Str("contact_id", id).Msg("Dynamics: Contact updated")
	return &updated, nil
}

// TestConnection issues the smallest authenticated query to prove the credentials work.
func (c *Client) TestConnection(ctx context.Context) error {
	var result collection
	_, err := c.do(ctx, http.MethodGet, "contacts?$top=1", nil, &result)
	return err
}

// do sends one Web API request and decodes a 2xx body into out. It returns the
// response header so callers can read OData-EntityId.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (http.Header, error) {
	endpoint, err := c.endpoints.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	if endpoint.ResourceURL == "" || endpoint.APIVersion == "" {
		return nil, apperrors.ErrNotConfigured
	}

	token, err := c.tokens.AppToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	op := method + " " + strings.SplitN(path, "?", 2)[0]
	req, err := http.NewRequestWithContext(ctx, method, endpoint.BaseURL()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	req.Header.Set("Prefer", "return=representation")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("op", op).Msg("Dynamics: Request failed")
		return nil, &apperrors.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &apperrors.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apperrors.APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
		log.Error().
			Str("op", op).
			Int("status", resp.StatusCode).
			Str("message", apiErr.Message).
			Msg("Dynamics: API request failed")
		return nil, apiErr
	}

	log.Debug().Str("op", op).Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("Dynamics: API request succeeded")

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	return resp.Header, nil
}

// errorMessage extracts error.message from an OData error body, falling back to the raw body.
func errorMessage(raw []byte) string {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
