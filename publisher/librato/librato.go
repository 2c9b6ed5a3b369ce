// Package librato submits measurement batches to the Librato metrics API.
package librato

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pgmonitor/metric"
	"pgmonitor/publisher"
)

// DefaultURL is the legacy source-based metrics endpoint.
const DefaultURL = "https://metrics-api.librato.com/v1/metrics"

// MaxPerRequest caps the number of measurements in one POST.
const MaxPerRequest = 300

// Publisher implements publisher.Publisher against the Librato API.
type Publisher struct {
	URL       string       // e.g. "https://metrics-api.librato.com/v1/metrics"
	User      string       // account email
	Token     string       // API token
	HTTP      *http.Client // injected for testability
	Log       *zap.Logger
	UserAgent string
}

// New returns a ready-to-use publisher.
func New(url, user, token string, log *zap.Logger) *Publisher {
	if url == "" {
		url = DefaultURL
	}
	return &Publisher{
		URL:       url,
		User:      user,
		Token:     token,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
		Log:       log,
		UserAgent: "pgmonitor/0.1",
	}
}

// NewBatch implements publisher.Publisher.
func (p *Publisher) NewBatch() publisher.Batch {
	return &batch{pub: p}
}

// measurement is one entry of the "gauges" or "counters" arrays.
type measurement struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Source string  `json:"source,omitempty"`
}

// payload is the body of POST /v1/metrics.
type payload struct {
	Gauges   []measurement `json:"gauges,omitempty"`
	Counters []measurement `json:"counters,omitempty"`
}

type batch struct {
	publisher.Buffer
	pub *Publisher
}

// Submit posts the batch in chunks of at most MaxPerRequest
// measurements. The first failing chunk aborts the submission.
func (b *batch) Submit(ctx context.Context) error {
	for start := 0; start < len(b.Points); start += MaxPerRequest {
		end := min(start+MaxPerRequest, len(b.Points))
		if err := b.pub.post(ctx, encode(b.Points[start:end])); err != nil {
			return err
		}
	}
	b.pub.Log.Debug("batch submitted", zap.Int("metrics", len(b.Points)))
	return nil
}

func encode(points []metric.Point) payload {
	var body payload
	for _, p := range points {
		m := measurement{Name: p.Name, Value: p.Value, Source: p.Source}
		if p.Kind == metric.Counter {
			body.Counters = append(body.Counters, m)
		} else {
			body.Gauges = append(body.Gauges, m)
		}
	}
	return body
}

func (p *Publisher) post(ctx context.Context, body payload) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode librato payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.User, p.Token)
	req.Header.Set("Content-Type", "application/json")
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("librato request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("librato returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
