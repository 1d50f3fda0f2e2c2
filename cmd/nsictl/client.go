package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// apiClient is a thin REST client for internal/restapi, the nsictl
// analogue of newtron's SSH-connected network.Device.
type apiClient struct {
	BaseURL  string
	User     string
	Password string
	HTTP     *http.Client
}

func newAPIClient(baseURL, user, password string) *apiClient {
	return &apiClient{BaseURL: baseURL, User: user, Password: password, HTTP: http.DefaultClient}
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("nsictl: server returned %d: %s", e.Status, e.Body)
}

func (c *apiClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.User != "" {
		req.SetBasicAuth(c.User, c.Password)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &apiError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (c *apiClient) reserve(ctx context.Context, req reserveRequest) (connectionSnapshot, error) {
	var snap connectionSnapshot
	err := c.do(ctx, http.MethodPost, "/connections", req, &snap)
	return snap, err
}

func (c *apiClient) list(ctx context.Context, filter string) ([]connectionSnapshot, error) {
	path := "/connections"
	if filter != "" {
		path += "?filter=" + url.QueryEscape(filter)
	}
	var snaps []connectionSnapshot
	err := c.do(ctx, http.MethodGet, path, nil, &snaps)
	return snaps, err
}

func (c *apiClient) get(ctx context.Context, id string) (connectionSnapshot, error) {
	var snap connectionSnapshot
	err := c.do(ctx, http.MethodGet, "/connections/"+id, nil, &snap)
	return snap, err
}

func (c *apiClient) action(ctx context.Context, id, action string) (connectionSnapshot, error) {
	var snap connectionSnapshot
	err := c.do(ctx, http.MethodPost, "/connections/"+id+"/"+action, nil, &snap)
	return snap, err
}
