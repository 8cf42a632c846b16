package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/wire"
	"go.uber.org/zap"
)

const (
	pathPush     = "/api/sync/push"
	pathPull     = "/api/sync/pull/"
	pathDiagrams = "/api/sync/diagrams"
	pathHealth   = "/health"

	jsonContentType = "application/json"
)

// Config describes the remote endpoint and transport dependencies.
type Config struct {
	APIURL     string
	Enabled    bool
	HTTPClient *http.Client
	Codec      *wire.Codec
	Logger     *zap.Logger
}

// Client issues stateless sync requests against the remote store.
type Client struct {
	baseURL    string
	enabled    bool
	httpClient *http.Client
	codec      *wire.Codec
	logger     *zap.Logger
}

// PushResult mirrors the push response body.
type PushResult struct {
	Success   bool
	DiagramID string
}

type pushRequestPayload struct {
	Diagram wire.Diagram `json:"diagram"`
}

type pushResponsePayload struct {
	Success   bool   `json:"success"`
	DiagramID string `json:"diagram_id"`
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type listItemPayload struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	DatabaseType    string  `json:"database_type"`
	DatabaseEdition *string `json:"database_edition,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// NewClient constructs a Client. The client is enabled only when the flag is
// set and the endpoint is non-empty.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	codec := cfg.Codec
	if codec == nil {
		codec = wire.NewCodec(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	return &Client{
		baseURL:    baseURL,
		enabled:    cfg.Enabled && baseURL != "",
		httpClient: httpClient,
		codec:      codec,
		logger:     logger,
	}
}

// Enabled reports whether the client will issue requests.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// Push encodes the diagram and creates or updates it remotely.
func (c *Client) Push(ctx context.Context, diagram diagrams.Diagram) (PushResult, error) {
	if !c.Enabled() {
		return PushResult{}, ErrDisabled
	}

	body, err := json.Marshal(pushRequestPayload{Diagram: c.codec.Encode(diagram)})
	if err != nil {
		return PushResult{}, newError(opPush, reasonEncodeFailed, ErrDecode, err)
	}

	response, err := c.do(ctx, http.MethodPost, pathPush, body)
	if err != nil {
		return PushResult{}, newError(opPush, reasonRequestFailed, ErrTransport, err)
	}
	defer func() { _ = response.Body.Close() }()

	if !isSuccess(response.StatusCode) {
		return PushResult{}, serverError(opPush, response)
	}

	var payload pushResponsePayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return PushResult{}, newError(opPush, reasonDecodeFailed, ErrDecode, err)
	}
	c.logger.Debug("diagram pushed",
		zap.String("diagram_id", payload.DiagramID),
		zap.Bool("success", payload.Success))
	return PushResult{Success: payload.Success, DiagramID: payload.DiagramID}, nil
}

// Pull fetches a diagram by id. A 404 yields found=false without an error.
func (c *Client) Pull(ctx context.Context, diagramID string) (diagrams.Diagram, bool, error) {
	if !c.Enabled() {
		return diagrams.Diagram{}, false, ErrDisabled
	}

	response, err := c.do(ctx, http.MethodGet, pathPull+url.PathEscape(diagramID), nil)
	if err != nil {
		return diagrams.Diagram{}, false, newError(opPull, reasonRequestFailed, ErrTransport, err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode == http.StatusNotFound {
		return diagrams.Diagram{}, false, nil
	}
	if !isSuccess(response.StatusCode) {
		return diagrams.Diagram{}, false, serverError(opPull, response)
	}

	var payload wire.Diagram
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return diagrams.Diagram{}, false, newError(opPull, reasonDecodeFailed, ErrDecode, err)
	}
	decoded, err := c.codec.Decode(payload)
	if err != nil {
		return diagrams.Diagram{}, false, newError(opPull, reasonDecodeFailed, ErrDecode, err)
	}
	return decoded, true, nil
}

// ListDiagrams returns the remote catalog projection in server order.
func (c *Client) ListDiagrams(ctx context.Context) ([]diagrams.ListItem, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	response, err := c.do(ctx, http.MethodGet, pathDiagrams, nil)
	if err != nil {
		return nil, newError(opList, reasonRequestFailed, ErrTransport, err)
	}
	defer func() { _ = response.Body.Close() }()

	if !isSuccess(response.StatusCode) {
		return nil, serverError(opList, response)
	}

	var payload []listItemPayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, newError(opList, reasonDecodeFailed, ErrDecode, err)
	}

	items := make([]diagrams.ListItem, 0, len(payload))
	for _, entry := range payload {
		createdAt, err := wire.ParseTimestamp(entry.CreatedAt)
		if err != nil {
			return nil, newError(opList, reasonDecodeFailed, ErrDecode, err)
		}
		updatedAt, err := wire.ParseTimestamp(entry.UpdatedAt)
		if err != nil {
			return nil, newError(opList, reasonDecodeFailed, ErrDecode, err)
		}
		items = append(items, diagrams.ListItem{
			ID:              entry.ID,
			Name:            entry.Name,
			DatabaseType:    diagrams.DatabaseType(entry.DatabaseType),
			DatabaseEdition: entry.DatabaseEdition,
			CreatedAt:       createdAt,
			UpdatedAt:       updatedAt,
		})
	}
	return items, nil
}

// HealthCheck reports whether the remote store answers. It never fails.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if !c.Enabled() {
		return false
	}
	response, err := c.do(ctx, http.MethodGet, pathHealth, nil)
	if err != nil {
		c.logger.Warn("remote health check failed", zap.Error(err))
		return false
	}
	defer func() { _ = response.Body.Close() }()
	_, _ = io.Copy(io.Discard, response.Body)
	return isSuccess(response.StatusCode)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	request.Header.Set("Accept", jsonContentType)
	return c.httpClient.Do(request)
}

func serverError(operation string, response *http.Response) *Error {
	failure := newError(operation, reasonServerError, ErrServer, nil)
	failure.StatusCode = response.StatusCode

	raw, _ := io.ReadAll(response.Body)
	var payload errorPayload
	if err := json.Unmarshal(raw, &payload); err == nil {
		failure.Message = firstNonEmpty(payload.Message, payload.Error)
		failure.ServerCode = payload.Code
	}
	if failure.Message == "" {
		failure.Message = fmt.Sprintf("HTTP %d: %s", response.StatusCode, http.StatusText(response.StatusCode))
	}
	return failure
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
