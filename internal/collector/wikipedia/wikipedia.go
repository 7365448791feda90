// Package wikipedia implements the WikipediaCollector, which polls the
// MediaWiki recentchanges API for edit activity in a trailing window.
package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

const apiURL = "https://en.wikipedia.org/w/api.php"

// seenIDCacheSize bounds the revision-ID dedup cache. The original Python
// collector kept an unbounded set; a bounded LRU gives the same "don't
// double-count an edit seen in an overlapping window" behavior without an
// unbounded memory footprint over a long-running aggregator process.
const seenIDCacheSize = 4096

// Collector samples Wikipedia edit activity over a trailing window.
type Collector struct {
	client           *http.Client
	limiter          *rate.Limiter
	seen             *lru.Cache[int64, struct{}]
	collectionWindow time.Duration
	apiURL           string
	userAgent        string
}

// New builds a WikipediaCollector. window is the trailing duration searched
// on each tick; requestsPerSecond bounds the MediaWiki API call rate.
// userAgent identifies the collector to the MediaWiki API, which rejects
// requests that don't carry one.
func New(window time.Duration, requestsPerSecond float64, userAgent string) (*Collector, error) {
	seen, err := lru.New[int64, struct{}](seenIDCacheSize)
	if err != nil {
		return nil, fmt.Errorf("wikipedia: build seen-id cache: %w", err)
	}
	return &Collector{
		client:           &http.Client{Timeout: 10 * time.Second},
		limiter:          rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		seen:             seen,
		collectionWindow: window,
		apiURL:           apiURL,
		userAgent:        userAgent,
	}, nil
}

// Source identifies this collector.
func (c *Collector) Source() string { return "wikipedia" }

type recentChangesResponse struct {
	Query struct {
		RecentChanges []struct {
			Type     string `json:"type"`
			Ns       int    `json:"ns"`
			RevID    int64  `json:"revid"`
			Title    string `json:"title"`
			Timestamp string `json:"timestamp"`
		} `json:"recentchanges"`
	} `json:"query"`
}

// Collect queries recentchanges for the trailing window. A transport error
// or non-2xx response is reported as a successful tick with edit_count=0,
// query_success=0, so the failure is visible in the timeseries rather than
// causing the tick to be skipped.
func (c *Collector) Collect(ctx context.Context) ([]metric.MetricEntry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	count, err := c.queryEditCount(ctx)
	if err != nil {
		zeroCount, zerr := metric.NewMetricEntry("edit_count", 0, "")
		if zerr != nil {
			return nil, zerr
		}
		failure, zerr := metric.NewMetricEntry("query_success", 0, "")
		if zerr != nil {
			return nil, zerr
		}
		return []metric.MetricEntry{zeroCount, failure}, nil
	}

	editCount, err := metric.NewMetricEntry("edit_count", float64(count), "")
	if err != nil {
		return nil, err
	}
	success, err := metric.NewMetricEntry("query_success", 1, "")
	if err != nil {
		return nil, err
	}
	return []metric.MetricEntry{editCount, success}, nil
}

func (c *Collector) queryEditCount(ctx context.Context) (int, error) {
	since := time.Now().UTC().Add(-c.collectionWindow)

	q := url.Values{
		"action":      {"query"},
		"list":        {"recentchanges"},
		"format":      {"json"},
		"rcnamespace": {"0"},
		"rctype":      {"edit|new"},
		"rcprop":      {"ids|title|timestamp"},
		"rcend":       {since.Format("2006-01-02T15:04:05Z")},
		"rclimit":     {"500"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("wikipedia: unexpected status %d", resp.StatusCode)
	}

	var parsed recentChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}

	count := 0
	for _, change := range parsed.Query.RecentChanges {
		if change.Ns != 0 {
			continue
		}
		if change.Type != "edit" && change.Type != "new" {
			continue
		}
		if _, dup := c.seen.Get(change.RevID); dup {
			continue
		}
		c.seen.Add(change.RevID, struct{}{})
		count++
	}
	return count, nil
}
