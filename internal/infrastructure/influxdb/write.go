package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPointValue     = "point_value"
	MeasurementEquipmentState = "equipment_state"
	MeasurementAlarmState     = "alarm_state"
)

// EquipmentSample is one equipment status row.
type EquipmentSample struct {
	Name        string
	Type        string
	Mode        string
	CommandedOn bool
	ActualOn    bool
	IsRunning   bool
	Error       string
}

func (c *Client) accept() bool {
	if c == nil {
		return false
	}
	if !c.ready.Load() {
		c.dropped.Add(1)
		return false
	}
	return true
}

// WritePointValue records one data point reading.
func (c *Client) WritePointValue(name, port string, value float64, at time.Time) {
	if !c.accept() {
		return
	}
	c.writeAPI.WritePoint(newPointValue(name, port, value, at))
}

// WriteEquipmentState records an equipment status snapshot.
func (c *Client) WriteEquipmentState(s EquipmentSample, at time.Time) {
	if !c.accept() {
		return
	}
	c.writeAPI.WritePoint(newEquipmentState(s, at))
}

// WriteAlarmState records an alarm rule transition.
func (c *Client) WriteAlarmState(rule, state string, triggered bool, at time.Time) {
	if !c.accept() {
		return
	}
	c.writeAPI.WritePoint(newAlarmState(rule, state, triggered, at))
}

func newPointValue(name, port string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPointValue,
		map[string]string{"point": name, "port": port},
		map[string]interface{}{"value": value},
		at,
	)
}

func newEquipmentState(s EquipmentSample, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementEquipmentState,
		map[string]string{"equipment": s.Name, "type": s.Type},
		map[string]interface{}{
			"mode":         s.Mode,
			"commanded_on": s.CommandedOn,
			"actual_on":    s.ActualOn,
			"is_running":   s.IsRunning,
			"error":        s.Error,
		},
		at,
	)
}

func newAlarmState(rule, state string, triggered bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAlarmState,
		map[string]string{"rule": rule},
		map[string]interface{}{"state": state, "triggered": triggered},
		at,
	)
}
