// Package transport implements an optional collector that reads GTFS-realtime
// vehicle position and trip update feeds and reports per-vehicle location and
// schedule delay.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

// Collector polls two GTFS-realtime feeds on each tick and joins them by
// trip ID into one metric set per vehicle.
type Collector struct {
	client           *http.Client
	vehiclePositions string
	tripUpdates      string
}

// New builds a Collector against the given feed URLs.
func New(vehiclePositionsURL, tripUpdatesURL string) *Collector {
	return &Collector{
		client:           &http.Client{Timeout: 10 * time.Second},
		vehiclePositions: vehiclePositionsURL,
		tripUpdates:      tripUpdatesURL,
	}
}

// Source implements collector.Collector.
func (c *Collector) Source() string { return "transport" }

// Collect implements collector.Collector. It fetches both feeds, decodes
// them, and emits one metric triple (latitude, longitude,
// arrival_delay_seconds) per vehicle that appears in the vehicle-positions
// feed and has a matching trip in the trip-updates feed.
func (c *Collector) Collect(ctx context.Context) ([]metric.MetricEntry, error) {
	vpBody, err := c.fetch(ctx, c.vehiclePositions)
	if err != nil {
		return nil, fmt.Errorf("fetch vehicle positions: %w", err)
	}
	vehicles, err := decodeVehiclePositions(vpBody)
	if err != nil {
		return nil, fmt.Errorf("decode vehicle positions: %w", err)
	}

	tuBody, err := c.fetch(ctx, c.tripUpdates)
	if err != nil {
		return nil, fmt.Errorf("fetch trip updates: %w", err)
	}
	delays, err := decodeTripUpdates(tuBody)
	if err != nil {
		return nil, fmt.Errorf("decode trip updates: %w", err)
	}

	delayByTrip := make(map[string]int32, len(delays))
	for _, d := range delays {
		delayByTrip[d.tripID] = d.delaySeconds
	}

	var entries []metric.MetricEntry
	for _, v := range vehicles {
		if v.tripID == "" {
			continue
		}
		delay, ok := delayByTrip[v.tripID]
		if !ok {
			continue
		}

		lat, err := metric.NewMetricEntry(metricName("latitude", v.vehicleID), v.latitude, "degrees")
		if err != nil {
			return nil, err
		}
		lon, err := metric.NewMetricEntry(metricName("longitude", v.vehicleID), v.longitude, "degrees")
		if err != nil {
			return nil, err
		}
		delayEntry, err := metric.NewMetricEntry(metricName("arrival_delay_seconds", v.vehicleID), float64(delay), "seconds")
		if err != nil {
			return nil, err
		}
		entries = append(entries, lat, lon, delayEntry)
	}

	return entries, nil
}

func metricName(base, vehicleID string) string {
	return fmt.Sprintf("%s.%s", base, vehicleID)
}

func (c *Collector) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
