package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/omerlv/chargelink/core/metrics"
	"github.com/omerlv/chargelink/infra/logger"
)

// InfluxSink writes session lifecycle events to InfluxDB using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClientWithOptions(url, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink when the health check fails, so a down Influx never blocks the
// engine.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordSessionStart(vehicleID string, success bool) error {
	return s.write(write.NewPointWithMeasurement("session_start").
		AddTag("vehicle_id", vehicleID).
		AddTag("success", strconv.FormatBool(success)).
		AddField("count", 1).
		SetTime(time.Now()))
}

func (s *InfluxSink) RecordSessionStop(vehicleID, status string) error {
	return s.write(write.NewPointWithMeasurement("session_stop").
		AddTag("vehicle_id", vehicleID).
		AddTag("status", status).
		AddField("count", 1).
		SetTime(time.Now()))
}

func (s *InfluxSink) RecordResolveAttempts(vehicleID string, attempts int, success bool) error {
	return s.write(write.NewPointWithMeasurement("station_resolve").
		AddTag("vehicle_id", vehicleID).
		AddTag("success", strconv.FormatBool(success)).
		AddField("attempts", attempts).
		SetTime(time.Now()))
}

func (s *InfluxSink) RecordPollStatus(sessionID, status string) error {
	return s.write(write.NewPointWithMeasurement("session_poll").
		AddTag("session_id", sessionID).
		AddTag("status", status).
		AddField("count", 1).
		SetTime(time.Now()))
}

func (s *InfluxSink) RecordReconciliation(matched, pending int) error {
	return s.write(write.NewPointWithMeasurement("cdr_reconciliation").
		AddField("matched", matched).
		AddField("pending", pending).
		SetTime(time.Now()))
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

var _ coremetrics.Sink = (*InfluxSink)(nil)
