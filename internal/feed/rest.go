package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"BiasSentinel/internal/model"
)

// RESTFeed polls a bar endpoint and serves the response one bar at a time.
type RESTFeed struct {
	BaseURL string
	APIKey  string
	Symbol  string
	Client  *http.Client

	mu    sync.Mutex
	buf   map[model.Timeframe][]model.Bar
	since map[model.Timeframe]time.Time
}

// NewRESTFeed creates a polling feed with optional proxy support.
func NewRESTFeed(baseURL, apiKey, proxyURL, symbol string) *RESTFeed {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &RESTFeed{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Symbol:  symbol,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		buf:   make(map[model.Timeframe][]model.Bar),
		since: make(map[model.Timeframe]time.Time),
	}
}

func (f *RESTFeed) Name() string { return "rest" }

// NextBar serves buffered bars first and polls the endpoint once the buffer
// for tf is empty.
func (f *RESTFeed) NextBar(ctx context.Context, tf model.Timeframe) (model.Bar, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.buf[tf]) == 0 {
		if err := f.poll(ctx, tf); err != nil {
			return model.Bar{}, false, err
		}
	}
	q := f.buf[tf]
	if len(q) == 0 {
		return model.Bar{}, false, nil
	}
	b := q[0]
	f.buf[tf] = q[1:]
	return b, true, nil
}

func (f *RESTFeed) poll(ctx context.Context, tf model.Timeframe) error {
	q := url.Values{}
	q.Set("symbol", f.Symbol)
	q.Set("timeframe", string(tf))
	since, seen := f.since[tf]
	if seen {
		q.Set("since", strconv.FormatInt(since.Unix(), 10))
	}
	endpoint := fmt.Sprintf("%s/api/v1/bars?%s", f.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fetch bars: status %d, body: %s", resp.StatusCode, string(body))
	}
	var wire []wireBar
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return fmt.Errorf("decode bars: %w", err)
	}

	bars := make([]model.Bar, 0, len(wire))
	for _, w := range wire {
		bars = append(bars, w.toBar(tf))
	}
	// Ensure chronological order
	sort.Slice(bars, func(i, j int) bool { return bars[i].OpenTime.Before(bars[j].OpenTime) })

	fresh := bars[:0]
	for _, b := range bars {
		if seen && !b.OpenTime.After(since) {
			continue
		}
		fresh = append(fresh, b)
		since, seen = b.OpenTime, true
	}
	if seen {
		f.since[tf] = since
	}
	bars = fresh
	f.buf[tf] = append(f.buf[tf], bars...)
	return nil
}
