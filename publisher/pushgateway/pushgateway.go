// Package pushgateway submits measurement batches to a Prometheus
// Pushgateway. Each batch replaces the job's metric group, so the
// gateway always holds the latest complete cycle.
package pushgateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"pgmonitor/metric"
	"pgmonitor/publisher"
)

// SourceLabel is the label carrying the logical database name.
const SourceLabel = "source"

// Publisher implements publisher.Publisher against a Pushgateway.
type Publisher struct {
	URL  string       // e.g. "http://pushgateway:9091"
	Job  string       // value of the job grouping label
	HTTP *http.Client // injected for testability
	Log  *zap.Logger
}

// New returns a ready-to-use publisher.
func New(url, job string, log *zap.Logger) *Publisher {
	return &Publisher{
		URL:  url,
		Job:  job,
		HTTP: &http.Client{Timeout: 10 * time.Second},
		Log:  log,
	}
}

// NewBatch implements publisher.Publisher.
func (p *Publisher) NewBatch() publisher.Batch {
	return &batch{pub: p}
}

type batch struct {
	publisher.Buffer
	pub *Publisher
}

// Submit replaces the job's group on the gateway with this batch.
// An empty batch is not pushed.
func (b *batch) Submit(ctx context.Context) error {
	if len(b.Points) == 0 {
		return nil
	}
	err := push.New(b.pub.URL, b.pub.Job).
		Client(b.pub.HTTP).
		Format(expfmt.FmtText).
		Collector(&batchCollector{points: b.Points}).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("pushgateway push: %w", err)
	}
	b.pub.Log.Debug("batch pushed", zap.Int("metrics", len(b.Points)))
	return nil
}

// batchCollector exposes a fixed set of points as const metrics. It is
// an unchecked collector: Describe sends nothing.
type batchCollector struct {
	points []metric.Point
}

func (c *batchCollector) Describe(chan<- *prometheus.Desc) {}

func (c *batchCollector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.points {
		desc := prometheus.NewDesc(MetricName(p.Name), "pgmonitor metric "+p.Name, []string{SourceLabel}, nil)
		valueType := prometheus.GaugeValue
		if p.Kind == metric.Counter {
			valueType = prometheus.CounterValue
		}
		m, err := prometheus.NewConstMetric(desc, valueType, p.Value, p.Source)
		if err != nil {
			ch <- prometheus.NewInvalidMetric(desc, err)
			continue
		}
		ch <- m
	}
}

// MetricName maps a dotted metric name onto the Prometheus charset
// [a-zA-Z_:][a-zA-Z0-9_:]*.
func MetricName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || r == ':' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
