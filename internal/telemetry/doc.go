// Package telemetry feeds InfluxDB from the control core: fresh point
// values from every refreshed snapshot, and equipment and alarm state from
// the events bus.
package telemetry
