package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"go.klb.dev/corridor/internal/message"
)

// compressionThreshold is the minimum request body size to compress.
// Below this, compression overhead isn't worth it.
const compressionThreshold = 1024

// API is a client for the relay's HTTP surface:
//
//	GET  /clipboard/{token}                  → {items:[...]}
//	POST /clipboard/{token} {content}        → publish
//	POST /clipboard/{token} {action:"clear"} → clear
type API struct {
	baseURL    string
	httpClient *http.Client
	encoder    *zstd.Encoder
}

// StatusError is a non-200 answer from the relay other than an auth rejection.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http request failed with status %d: %s", e.Code, e.Body)
}

// Rejected reports whether the relay refused the request itself (4xx), as
// opposed to failing to serve it.
func (e *StatusError) Rejected() bool { return e.Code >= 400 && e.Code < 500 }

// NewAPI returns a client for the relay at baseURL.
func NewAPI(baseURL string, tlsConfig *tls.Config, timeout time.Duration) *API {
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		tr.TLSClientConfig = tlsConfig
	}
	return &API{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: tr,
		},
		encoder: encoder,
	}
}

// Fetch returns the room history, newest first.
func (a *API) Fetch(ctx context.Context, token string) ([]message.Item, error) {
	var resp message.PollResponse
	if err := a.do(ctx, http.MethodGet, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Push publishes content and returns the item the relay stored.
func (a *API) Push(ctx context.Context, token, content string) (*message.Item, error) {
	var resp message.PushResponse
	if err := a.do(ctx, http.MethodPost, token, message.PushRequest{Content: content}, &resp); err != nil {
		return nil, err
	}
	return resp.Item, nil
}

// Clear empties the room history.
func (a *API) Clear(ctx context.Context, token string) error {
	return a.do(ctx, http.MethodPost, token, message.PushRequest{Action: message.ActionClear}, nil)
}

// do performs a JSON request against the token's room. Bodies of 1 KiB or
// more are compressed with zstd.
func (a *API) do(ctx context.Context, method, token string, reqBody, respBody any) error {
	var bodyReader io.Reader
	var contentEncoding string

	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		if len(payload) >= compressionThreshold {
			compressed := a.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
			bodyReader = bytes.NewReader(compressed)
			contentEncoding = "zstd"
		} else {
			bodyReader = bytes.NewReader(payload)
		}
	}

	target := a.baseURL + "/clipboard/" + url.PathEscape(token)
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
		if contentEncoding != "" {
			req.Header.Set("Content-Encoding", contentEncoding)
		}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if respBody != nil {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
