package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"soulspot/internal/httpclient"
)

// HTTPClient talks to an slskd-style daemon API. All requests carry the
// API key header; transport retries and pacing come from httpclient.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: httpclient.NewClient(&http.Client{
			Timeout: 30 * time.Second,
		}, 0, 1),
	}
}

func (c *HTTPClient) Submit(ctx context.Context, q Query) (string, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("marshal query: %w", err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v0/transfers/downloads", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("daemon accepted submission without an id")
	}
	return resp.ID, nil
}

func (c *HTTPClient) Status(ctx context.Context, ref string) (*Status, error) {
	var resp struct {
		ID       string  `json:"id"`
		State    string  `json:"state"`
		Progress float64 `json:"progress"`
		Path     string  `json:"path"`
		Size     int64   `json:"size"`
		Error    string  `json:"error"`
	}
	path := "/api/v0/transfers/downloads/" + url.PathEscape(ref)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, refErr(err)
	}

	return &Status{
		Ref:      resp.ID,
		State:    parseState(resp.State),
		Progress: resp.Progress,
		Path:     resp.Path,
		Size:     resp.Size,
		Error:    resp.Error,
	}, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, ref string) error {
	path := "/api/v0/transfers/downloads/" + url.PathEscape(ref)
	return refErr(c.do(ctx, http.MethodDelete, path, nil, nil))
}

func (c *HTTPClient) ListActive(ctx context.Context) ([]string, error) {
	var resp []struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v0/transfers/downloads?active=true", nil, &resp); err != nil {
		return nil, err
	}

	refs := make([]string, 0, len(resp))
	for _, item := range resp {
		refs = append(refs, item.ID)
	}
	return refs, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, target interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DaemonError{Code: resp.StatusCode, Status: resp.Status}
	}

	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// refErr turns a 404 on a ref-scoped endpoint into ErrUnknownRef. A 404 on
// submission means something else: the source does not list the track.
func refErr(err error) error {
	var de *DaemonError
	if errors.As(err, &de) && de.Code == http.StatusNotFound {
		return ErrUnknownRef
	}
	return err
}

// parseState maps daemon state strings onto our four states. Daemons vary
// in phrasing; match loosely.
func parseState(raw string) State {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "error"), strings.Contains(s, "fail"), strings.Contains(s, "cancel"):
		return StateError
	case strings.Contains(s, "complete"), strings.Contains(s, "succeeded"):
		return StateComplete
	case strings.Contains(s, "progress"), strings.Contains(s, "active"), strings.Contains(s, "transferring"):
		return StateActive
	default:
		return StateQueued
	}
}

var _ Client = (*HTTPClient)(nil)
