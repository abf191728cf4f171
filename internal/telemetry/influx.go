package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/revjunkie/nexus7/internal/config"
	"github.com/revjunkie/nexus7/internal/host"
	"github.com/revjunkie/nexus7/internal/policy"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// SessionCounters aggregate the decisions taken over one daemon run.
type SessionCounters struct {
	Ticks      uint64 `json:"ticks"`
	OnlineAll  uint64 `json:"online_all"`
	OnlineOne  uint64 `json:"online_one"`
	OfflineOne uint64 `json:"offline_one"`
	NoOp       uint64 `json:"noop"`
	Dropped    uint64 `json:"dropped"`
}

// Recorder ships per-tick decision points to InfluxDB and keeps the
// session counters. Ticks arrive on the controller goroutine, so they
// are queued and written from a separate goroutine; when the queue is
// full the point is dropped and counted rather than stalling the
// sampling loop.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   logrus.FieldLogger
	hostname string

	queue chan *write.Point
	done  chan struct{}

	counts  CounterSink
	started time.Time
}

func NewRecorder(cfg config.DatabaseConfig, logger logrus.FieldLogger) (*Recorder, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}
	if health.Status != "pass" {
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": health.Message,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb health status %q", health.Status)
	}

	hc, err := host.GetHostConfig()
	hostname := "unknown"
	if err == nil {
		hostname = hc.Hostname
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Bucket,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	r := &Recorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger,
		hostname: hostname,
		queue:    make(chan *write.Point, 256),
		done:     make(chan struct{}),
		started:  time.Now(),
	}
	go r.writeLoop()
	return r, nil
}

// RecordTick implements the controller sink.
func (r *Recorder) RecordTick(ts time.Time, running, average, online uint, action policy.Action, interval time.Duration) {
	r.counts.RecordTick(ts, running, average, online, action, interval)

	point := influxdb2.NewPoint("hotplug_tick",
		map[string]string{
			"host":   r.hostname,
			"action": action.String(),
		},
		map[string]interface{}{
			"running":     int64(running),
			"avg":         int64(average),
			"online":      int64(online),
			"interval_ms": interval.Milliseconds(),
		},
		ts)

	select {
	case r.queue <- point:
	default:
		r.counts.addDropped()
	}
}

// Counters returns a copy of the session counters.
func (r *Recorder) Counters() SessionCounters {
	return r.counts.Counters()
}

func (r *Recorder) writeLoop() {
	for point := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.writeAPI.WritePoint(ctx, point); err != nil {
			r.logger.WithError(err).Debug("Failed to write telemetry point")
		}
		cancel()
	}
	close(r.done)
}

// Close drains the queue, writes a session summary point and releases
// the client.
func (r *Recorder) Close() {
	close(r.queue)
	<-r.done

	counters := r.Counters()
	point := influxdb2.NewPoint("hotplug_session",
		map[string]string{"host": r.hostname},
		map[string]interface{}{
			"ticks":            int64(counters.Ticks),
			"online_all":       int64(counters.OnlineAll),
			"online_one":       int64(counters.OnlineOne),
			"offline_one":      int64(counters.OfflineOne),
			"noop":             int64(counters.NoOp),
			"dropped":          int64(counters.Dropped),
			"duration_seconds": int64(time.Since(r.started).Seconds()),
		},
		time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.writeAPI.WritePoint(ctx, point); err != nil {
		r.logger.WithError(err).Warn("Failed to write session summary")
	}

	r.client.Close()
}
