// Package client is a Go SDK for the approvals HTTP API.
package client

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

	"github.com/google/uuid"

	"github.com/bturcanu/fleetgov/pkg/approvals"
	"github.com/bturcanu/fleetgov/pkg/governance"
	"github.com/bturcanu/fleetgov/pkg/query"
	"github.com/bturcanu/fleetgov/pkg/types"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ListOptions selects a view. Empty fields select everything.
type ListOptions struct {
	Type   governance.Kind
	Status governance.Status
	Search string
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Type != "" {
		v.Set("type", string(o.Type))
	}
	if o.Status != "" {
		v.Set("status", string(o.Status))
	}
	if o.Search != "" {
		v.Set("search", o.Search)
	}
	return v
}

func (c *Client) List(ctx context.Context, opts ListOptions) ([]governance.ApprovalRequest, error) {
	path := "/v1/requests"
	if q := opts.values().Encode(); q != "" {
		path += "?" + q
	}
	var out []governance.ApprovalRequest
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Summary(ctx context.Context, kind governance.Kind) (map[governance.Kind]query.Summary, error) {
	path := "/v1/requests/summary"
	if kind != "" {
		path += "?type=" + url.QueryEscape(string(kind))
	}
	var out map[governance.Kind]query.Summary
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id string) (*governance.ApprovalRequest, error) {
	var out governance.ApprovalRequest
	if err := c.call(ctx, http.MethodGet, "/v1/requests/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Audit(ctx context.Context, id string) (*approvals.AuditTrail, error) {
	var out approvals.AuditTrail
	if err := c.call(ctx, http.MethodGet, "/v1/audit/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Submit(ctx context.Context, in governance.SubmitInput) (*governance.ApprovalRequest, error) {
	return c.mutate(ctx, http.MethodPost, "/v1/requests", in)
}

func (c *Client) Approve(ctx context.Context, id string) (*governance.ApprovalRequest, error) {
	return c.mutate(ctx, http.MethodPatch, "/v1/requests/"+url.PathEscape(id)+"/approve", nil)
}

func (c *Client) Reject(ctx context.Context, id, remarks string) (*governance.ApprovalRequest, error) {
	return c.mutate(ctx, http.MethodPatch, "/v1/requests/"+url.PathEscape(id)+"/reject", approvals.RejectInput{Remarks: remarks})
}

func (c *Client) OverrideLimit(ctx context.Context, id string, limit int, remarks string) (*governance.ApprovalRequest, error) {
	return c.mutate(ctx, http.MethodPatch, "/v1/requests/"+url.PathEscape(id)+"/limit", approvals.LimitInput{Limit: limit, Remarks: remarks})
}

func (c *Client) ConsumeToken(ctx context.Context, id string) (*governance.ApprovalRequest, error) {
	return c.mutate(ctx, http.MethodPost, "/v1/requests/"+url.PathEscape(id)+"/token/consume", nil)
}

func (c *Client) RevokeToken(ctx context.Context, id, remarks string) (*governance.ApprovalRequest, error) {
	return c.mutate(ctx, http.MethodPost, "/v1/requests/"+url.PathEscape(id)+"/token/revoke", approvals.RevokeInput{Remarks: remarks})
}

// WaitForDecision polls until id leaves pending and returns the decided request.
func (c *Client) WaitForDecision(ctx context.Context, id string, pollEvery time.Duration) (*governance.ApprovalRequest, error) {
	t := time.NewTicker(pollEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			req, err := c.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if req.Status.Terminal() {
				return req, nil
			}
		}
	}
}

func (c *Client) mutate(ctx context.Context, method, path string, body any) (*governance.ApprovalRequest, error) {
	var out governance.ApprovalRequest
	if err := c.call(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	return c.doJSON(httpReq, out)
}

// doJSON decodes a 2xx body into out. Error responses come back as
// *types.APIError so callers can match on Code.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr types.APIError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Code != "" {
			apiErr.HTTPCode = resp.StatusCode
			return &apiErr
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}
