package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/sfcalls/internal/model"
)

// ListCalls fetches one page of recent calls, newest first.
func (c *Client) ListCalls(ctx context.Context, opts ListCallsOptions) (*CallsPage, error) {
	query := url.Values{}

	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(min(opts.Limit, MaxListLimit)))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	for _, p := range opts.Priorities {
		query.Add("priority", string(p))
	}

	var resp CallsPage
	if err := c.get(ctx, "/calls", query, &resp); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	if resp.Calls == nil {
		resp.Calls = []model.Call{}
	}

	return &resp, nil
}

// ListAllCalls follows cursors until the last page or maxPages pages
// (0 = no limit).
func (c *Client) ListAllCalls(ctx context.Context, opts ListCallsOptions, maxPages int) ([]model.Call, error) {
	var all []model.Call
	if opts.Limit <= 0 {
		opts.Limit = MaxListLimit
	}

	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		resp, err := c.ListCalls(ctx, opts)
		if err != nil {
			return nil, err
		}

		all = append(all, resp.Calls...)

		if !resp.HasNext() {
			break
		}
		opts.Cursor = *resp.NextCursor
	}

	return all, nil
}

// CallsInBBox fetches calls with coordinates inside vp. limit <= 0 uses the
// server default.
func (c *Client) CallsInBBox(ctx context.Context, vp model.Viewport, limit int) ([]model.Call, error) {
	if err := vp.Validate(); err != nil {
		return nil, fmt.Errorf("calls in bbox: %w", err)
	}

	query := url.Values{}
	query.Set("min_lat", strconv.FormatFloat(vp.MinLat, 'f', -1, 64))
	query.Set("max_lat", strconv.FormatFloat(vp.MaxLat, 'f', -1, 64))
	query.Set("min_lng", strconv.FormatFloat(vp.MinLng, 'f', -1, 64))
	query.Set("max_lng", strconv.FormatFloat(vp.MaxLng, 'f', -1, 64))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(min(limit, MaxBBoxLimit)))
	}

	calls := []model.Call{}
	if err := c.get(ctx, "/calls/bbox", query, &calls); err != nil {
		return nil, fmt.Errorf("calls in bbox: %w", err)
	}

	return calls, nil
}

// GetCall fetches a single call by CAD number.
func (c *Client) GetCall(ctx context.Context, cadNumber string) (*model.Call, error) {
	var call model.Call
	if err := c.get(ctx, "/calls/"+url.PathEscape(cadNumber), nil, &call); err != nil {
		return nil, fmt.Errorf("get call %s: %w", cadNumber, err)
	}
	return &call, nil
}
