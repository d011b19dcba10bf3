// Package influxdb provides InfluxDB connectivity for the farm control core.
//
// It wraps the official influxdb-client-go v2 library and exposes typed
// writers for the series the core produces:
//   - point_value: one sample per data point per poll sweep
//   - equipment_state: commanded/actual/running/error per status change
//   - alarm_state: alarm rule transitions
//
// Every sample is tagged with the site ID. Writes are non-blocking and
// batched; they are dropped (and counted) until Connect has seen a healthy
// ping. Write failures arrive asynchronously through SetOnError.
//
// # Usage
//
//	client, err := influxdb.New(cfg.InfluxDB, cfg.Site.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//	if err := client.Connect(ctx); err != nil {
//	    // server unreachable
//	}
//
//	client.WritePointValue("TEMP-1", "plc-1", 24.5, time.Now())
package influxdb
