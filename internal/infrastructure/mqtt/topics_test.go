package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"system status", topics.SystemStatus(), "farm/system/status"},
		{"equipment state", topics.EquipmentState("fan-1"), "farm/state/equipment/fan-1"},
		{"equipment command", topics.EquipmentCommand("fan-1"), "farm/command/equipment/fan-1"},
		{"all equipment commands", topics.AllEquipmentCommands(), "farm/command/equipment/+"},
		{"alarm state", topics.AlarmState("high-temp"), "farm/state/alarm/high-temp"},
		{"alarm command", topics.AlarmCommand("high-temp"), "farm/command/alarm/high-temp"},
		{"all alarm commands", topics.AllAlarmCommands(), "farm/command/alarm/+"},
		{"environment", topics.EnvironmentState(), "farm/state/environment"},
		{"ack", topics.Ack("req-1"), "farm/ack/req-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseCommandTopic(t *testing.T) {
	tests := []struct {
		topic    string
		wantKind string
		wantName string
		wantOK   bool
	}{
		{"farm/command/equipment/fan-1", TargetEquipment, "fan-1", true},
		{"farm/command/alarm/high-temp", TargetAlarm, "high-temp", true},
		{"farm/command/valve/v1", "", "", false},
		{"farm/state/equipment/fan-1", "", "", false},
		{"farm/command/equipment/", "", "", false},
		{"other/command/equipment/fan-1", "", "", false},
		{"farm/command/equipment/fan-1/extra", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, name, ok := Topics{}.ParseCommandTopic(tt.topic)
			if kind != tt.wantKind || name != tt.wantName || ok != tt.wantOK {
				t.Errorf("ParseCommandTopic(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.topic, kind, name, ok, tt.wantKind, tt.wantName, tt.wantOK)
			}
		})
	}
}
