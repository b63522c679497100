// Package history records device state changes as InfluxDB points.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/document"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
)

const connectTimeout = 10 * time.Second

// ErrUnhealthy is returned when the server answers the ping as unhealthy.
var ErrUnhealthy = errors.New("history: influxdb not healthy")

// Config holds the InfluxDB connection settings.
type Config struct {
	URL             string
	Token           string
	Org             string
	Bucket          string
	Measurement     string
	BatchSize       uint
	FlushIntervalMS uint
}

// PointWriter is the non-blocking write side of the InfluxDB client.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder is a dispatcher sink writing one point per change event.
type Recorder struct {
	w           PointWriter
	measurement string
	client      influxdb2.Client
	log         *slog.Logger
	now         func() time.Time
}

// NewRecorder creates a recorder on an existing writer.
func NewRecorder(w PointWriter, measurement string, log *slog.Logger) *Recorder {
	if measurement == "" {
		measurement = "hue_state"
	}
	return &Recorder{w: w, measurement: measurement, log: log, now: time.Now}
}

// Connect opens an InfluxDB client, checks the server is healthy and
// returns a recorder on its batching write API.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*Recorder, error) {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushIntervalMS > 0 {
		opts.SetFlushInterval(cfg.FlushIntervalMS)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	healthy, err := client.Ping(pctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("history: ping %s: %w", cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, ErrUnhealthy
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn("influxdb write failed", "error", err)
		}
	}()

	r := NewRecorder(writeAPI, cfg.Measurement, log)
	r.client = client
	log.Info("state history enabled", "url", cfg.URL, "bucket", cfg.Bucket)
	return r, nil
}

// ID names the recorder in dispatcher logs.
func (r *Recorder) ID() string { return "influxdb" }

// Deliver writes the event carried by msg, if any. Writes are batched and
// never block the dispatcher.
func (r *Recorder) Deliver(msg queue.Message) error {
	if msg.Event == nil {
		return nil
	}
	if p := PointFor(r.measurement, *msg.Event, r.now()); p != nil {
		r.w.WritePoint(p)
	}
	return nil
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() error {
	r.w.Flush()
	if r.client != nil {
		r.client.Close()
	}
	return nil
}

// PointFor converts a change event into a point tagged with category, id
// and name. Light and group fields come from state/action, sensor fields
// from state, RGB events carry r, g and b. Events without numeric or
// boolean fields yield nil.
func PointFor(measurement string, evt state.ChangeEvent, ts time.Time) *write.Point {
	tags := map[string]string{
		"category": string(evt.Category),
		"id":       evt.ID,
	}
	fields := map[string]any{}

	switch info := evt.Info.(type) {
	case state.RGB:
		fields["r"] = info.R
		fields["g"] = info.G
		fields["b"] = info.B
	case map[string]any:
		if name, ok := document.String(info, "name"); ok {
			tags["name"] = name
		}
		for _, key := range []string{"state", "action"} {
			if sub, ok := document.Object(info, key); ok {
				addFields(fields, sub)
			}
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(measurement, tags, fields, ts)
}

func addFields(fields map[string]any, sub document.Map) {
	for k, v := range sub {
		switch val := v.(type) {
		case bool, float64, string:
			fields[k] = val
		case []any:
			if k == "xy" && len(val) == 2 {
				if x, y, ok := document.Pair(sub, "xy"); ok {
					fields["x"] = x
					fields["y"] = y
				}
			}
		}
	}
}
