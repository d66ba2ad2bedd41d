package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilnhq/kiln/internal/model"
)

// ErrUnreachable is returned when the intake can't be reached at all.
var ErrUnreachable = errors.New("install intake unreachable")

// ClientConfig is the configuration for the intake client.
type ClientConfig struct {
	// Address is a host:port or an http URL.
	Address    string
	BasePath   string
	HTTPClient *http.Client
}

func (c *ClientConfig) defaults() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return nil
}

// Client talks to the install intake of a running kiln.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a new intake client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	addr := strings.TrimRight(cfg.Address, "/")
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	if _, err := url.Parse(addr); err != nil {
		return nil, fmt.Errorf("invalid config: invalid address %q: %w", cfg.Address, err)
	}

	return &Client{baseURL: addr + sanitizeBase(cfg.BasePath), http: cfg.HTTPClient}, nil
}

// RequestInstall enqueues an install request, it returns the enqueued request.
func (c *Client) RequestInstall(ctx context.Context, req model.InstallRequest) (model.InstallRequest, error) {
	var resp InstallRequestJSON
	if err := c.do(ctx, http.MethodPost, "/installs", requestToJSON(req), &resp); err != nil {
		return model.InstallRequest{}, err
	}
	return resp.toModel(), nil
}

// Installs returns the active install status, nil when idle, and the waiting requests.
func (c *Client) Installs(ctx context.Context) (*model.InstallStatus, []model.InstallRequest, error) {
	var resp InstallsJSON
	if err := c.do(ctx, http.MethodGet, "/installs", nil, &resp); err != nil {
		return nil, nil, err
	}
	queue := make([]model.InstallRequest, 0, len(resp.Queue))
	for _, r := range resp.Queue {
		queue = append(queue, r.toModel())
	}
	return resp.Status.toModel(), queue, nil
}

// History returns finished installs, newest first. A zero limit returns all.
func (c *Client) History(ctx context.Context, limit int) ([]model.InstallOutcome, error) {
	var resp []OutcomeJSON
	if err := c.do(ctx, http.MethodGet, "/history?limit="+strconv.Itoa(limit), nil, &resp); err != nil {
		return nil, err
	}
	outcomes := make([]model.InstallOutcome, 0, len(resp))
	for _, o := range resp {
		outcomes = append(outcomes, o.toModel())
	}
	return outcomes, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorJSON
		_ = json.NewDecoder(resp.Body).Decode(&e)
		err := fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
		if resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %w", err, model.ErrNotValid)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode %s %s response: %w", method, path, err)
	}
	return nil
}
