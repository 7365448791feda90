// Package registration implements the aggregator-side handshake with the
// ingestion server: wait for health, then register the aggregator and each
// of its devices.
package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/telemetry-pipeline/pkg/apiclient"
)

// Client drives the registration handshake.
type Client struct {
	api *apiclient.Client
}

// New builds a Client on top of an apiclient.Client.
func New(api *apiclient.Client) *Client {
	return &Client{api: api}
}

// WaitHealthy polls GET /health until it succeeds or timeout elapses.
func (c *Client) WaitHealthy(ctx context.Context, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := c.api.Get(ctx, "/health", nil)
		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("registration: server not healthy after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

type aggregatorRequest struct {
	Name string `json:"name"`
}

type aggregatorResponse struct {
	AggregatorID uuid.UUID `json:"aggregator_id"`
}

// RegisterAggregator POSTs /aggregators, returning the server-issued ID and
// whether this call created it (as opposed to finding an existing one with
// the same name).
func (c *Client) RegisterAggregator(ctx context.Context, name string) (uuid.UUID, bool, error) {
	var resp aggregatorResponse
	status, err := c.api.PostJSON(ctx, "/aggregators", aggregatorRequest{Name: name}, &resp)
	if err != nil {
		return uuid.UUID{}, false, fmt.Errorf("registration: register aggregator: %w", err)
	}
	if status != 200 && status != 201 {
		return uuid.UUID{}, false, fmt.Errorf("registration: register aggregator: unexpected status %d", status)
	}
	return resp.AggregatorID, status == 201, nil
}

type deviceRequest struct {
	AggregatorID uuid.UUID `json:"aggregator_id"`
	Name         string    `json:"name"`
	Source       string    `json:"source"`
}

type deviceResponse struct {
	DeviceID uuid.UUID `json:"device_id"`
}

// RegisterDevice POSTs /devices for one collector's device record.
func (c *Client) RegisterDevice(ctx context.Context, aggregatorID uuid.UUID, name, source string) (uuid.UUID, error) {
	var resp deviceResponse
	status, err := c.api.PostJSON(ctx, "/devices", deviceRequest{
		AggregatorID: aggregatorID,
		Name:         name,
		Source:       source,
	}, &resp)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("registration: register device: %w", err)
	}
	if status != 200 && status != 201 {
		return uuid.UUID{}, fmt.Errorf("registration: register device: unexpected status %d", status)
	}
	return resp.DeviceID, nil
}
