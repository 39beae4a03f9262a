package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"intraday-trader/internal/operator"
)

// client talks to the operator HTTP API.
type client struct {
	http     *resty.Client
	operator string
}

func newClient(addr, token, operatorName string, timeout time.Duration) *client {
	c := resty.New().
		SetBaseURL(addr).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Operator", operatorName)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &client{http: c, operator: operatorName}
}

func (c *client) status(ctx context.Context) (*operator.StatusResponse, []byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/status")
	if err != nil {
		return nil, nil, fmt.Errorf("get status: %w", err)
	}
	if resp.IsError() {
		return nil, nil, fmt.Errorf("get status: %s: %s", resp.Status(), resp.String())
	}
	var out operator.StatusResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, nil, fmt.Errorf("decode status: %w", err)
	}
	return &out, resp.Body(), nil
}

// command posts to /control/{name}. A 502 still carries per-order results
// and is returned alongside an error.
func (c *client) command(ctx context.Context, name string, req operator.CommandRequest) (*operator.CommandResponse, error) {
	if req.Operator == "" {
		req.Operator = c.operator
	}
	var out operator.CommandResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/control/" + name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("%s: decode response (%s): %w", name, resp.Status(), err)
		}
	}
	if resp.IsError() {
		msg := out.Error
		if msg == "" {
			var e struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(resp.Body(), &e) == nil {
				msg = e.Error
			}
		}
		return &out, fmt.Errorf("%s: %s: %s", name, resp.Status(), msg)
	}
	return &out, nil
}
