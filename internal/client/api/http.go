package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const defaultRequestTimeout = 15 * time.Second

// conflictBody is the shape the server answers with when the entity changed
// since the client last saw it.
type conflictBody struct {
	Conflict   bool            `json:"conflict"`
	ServerData json.RawMessage `json:"serverData"`
}

type HTTPClient struct {
	baseURL string
	hc      *http.Client
	tokens  TokenSource
	log     logging.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for the given endpoint address. tokens may
// be nil for servers that do not require authentication.
func NewHTTPClient(baseURL string, tokens TokenSource, log logging.Logger) *HTTPClient {
	if log == nil {
		log = logging.Discard()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultRequestTimeout},
		tokens:  tokens,
		log:     log,
	}
}

func (c *HTTPClient) Execute(ctx context.Context, op *models.PendingOperation) (*Response, error) {
	method := op.Method
	if method == "" {
		method = http.MethodPost
	}

	resp, err := c.do(ctx, method, op.Endpoint, "application/json", bytes.NewReader(op.Payload))
	if err != nil {
		return nil, err
	}
	return c.classify(resp)
}

func (c *HTTPClient) UploadPhoto(ctx context.Context, photo *models.PendingPhoto) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("parentId", photo.ParentID); err != nil {
		return nil, fmt.Errorf("failed to write form field: %w", err)
	}
	part, err := w.CreateFormFile("file", photo.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photo.Data); err != nil {
		return nil, fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/photos", w.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	return c.classify(resp)
}

func (c *HTTPClient) Fetch(ctx context.Context, endpoint string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return nil, err
	}
	classified, err := c.classify(resp)
	if err != nil {
		return nil, err
	}
	return classified.Body, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/ping", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: ping returned %d", common.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// do sends the request with a bearer token attached. On a 401 answer the
// token is invalidated and the request retried once with a fresh one, so an
// expired access token never surfaces as a sync failure.
func (c *HTTPClient) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	send := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.tokens != nil {
			token, err := c.tokens.AccessToken(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to acquire access token: %w", err)
			}
			if token != "" {
				req.Header.Set(common.AccessTokenHeaderName, "Bearer "+token)
			}
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", common.ErrUnavailable, err)
		}
		return resp, nil
	}

	resp, err := send()
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		c.log.Debug(ctx, "access token rejected, refreshing")
		if err := c.tokens.Invalidate(ctx); err != nil {
			return nil, fmt.Errorf("failed to refresh session: %w", err)
		}
		resp, err = send()
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// classify reads the response body and maps the status code onto the sync
// engine's three outcomes. The caller owns neither the body nor the response
// after this returns.
func (c *HTTPClient) classify(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	result := &Response{StatusCode: resp.StatusCode, Body: body}

	// A conflict needs the explicit flag and the server's version of the
	// data. A bare 409 without them is treated as a rejection.
	if resp.StatusCode == http.StatusConflict {
		var cb conflictBody
		if err := json.Unmarshal(body, &cb); err == nil && cb.Conflict && len(cb.ServerData) > 0 {
			result.Conflict = true
			result.ServerData = cb.ServerData
			return result, nil
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return result, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: status %d", common.ErrorUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", common.ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d: %s", common.ErrServerRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
