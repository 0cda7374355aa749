// Package telemetry stores relay node heartbeats as InfluxDB time series.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/quickpayplatform/autocue/internal/config"
	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/models"
)

const (
	measurementHeartbeat = "relay_heartbeat"
	pingTimeout          = 5 * time.Second
	batchSize            = 100
	flushIntervalMillis  = 10_000
)

var (
	ErrDisabled         = errors.New("telemetry: influx is disabled")
	ErrConnectionFailed = errors.New("telemetry: influx connection failed")
)

type pointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// HeartbeatWriter writes one relay_heartbeat point per node heartbeat. Writes
// are batched by the client and never block the caller.
type HeartbeatWriter struct {
	client influxdb2.Client
	w      pointWriter
	log    *logger.Logger
}

// Connect pings the server and opens the non-blocking write API.
func Connect(cfg config.InfluxConfig, log *logger.Logger) (*HeartbeatWriter, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if log == nil {
		log = logger.Nop()
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushIntervalMillis))

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	api := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range api.Errors() {
			log.Warnw("influx_write_failed", "err", err)
		}
	}()
	return &HeartbeatWriter{client: client, w: api, log: log}, nil
}

// HeartbeatPoint builds the point for one heartbeat.
func HeartbeatPoint(nodeID string, hb models.Heartbeat, at time.Time) *write.Point {
	tags := map[string]string{"node_id": nodeID}
	if hb.OSCMode != "" {
		tags["osc_mode"] = hb.OSCMode
	}
	if hb.OS != "" {
		tags["os"] = hb.OS
	}
	fields := map[string]interface{}{
		"console_reachable": hb.ConsoleReachable,
	}
	if hb.Version != "" {
		fields["version"] = hb.Version
	}
	if hb.Status != "" {
		fields["status"] = hb.Status
	}
	if hb.LastError != "" {
		fields["last_error"] = hb.LastError
	}
	return write.NewPoint(measurementHeartbeat, tags, fields, at)
}

// RecordHeartbeat queues a point. Safe on a nil receiver.
func (h *HeartbeatWriter) RecordHeartbeat(nodeID string, hb models.Heartbeat, at time.Time) {
	if h == nil || h.w == nil {
		return
	}
	h.w.WritePoint(HeartbeatPoint(nodeID, hb, at))
}

// Close flushes pending points and releases the client.
func (h *HeartbeatWriter) Close() {
	if h == nil {
		return
	}
	if h.w != nil {
		h.w.Flush()
	}
	if h.client != nil {
		h.client.Close()
	}
}
