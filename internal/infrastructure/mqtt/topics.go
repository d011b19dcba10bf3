package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the core publishes or subscribes to.
const TopicPrefix = "farm"

// Command target kinds carried in command topics.
const (
	TargetEquipment = "equipment"
	TargetAlarm     = "alarm"
)

// Topics provides builders for farm core MQTT topics.
//
//	topic := mqtt.Topics{}.EquipmentState("fan-1")
//	// farm/state/equipment/fan-1
type Topics struct{}

// SystemStatus returns the retained online/offline topic (also the LWT topic).
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// EquipmentState returns the retained status topic for one equipment.
func (Topics) EquipmentState(name string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, TargetEquipment, name)
}

// EquipmentCommand returns the command topic for one equipment.
func (Topics) EquipmentCommand(name string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, TargetEquipment, name)
}

// AllEquipmentCommands matches every equipment command topic.
func (Topics) AllEquipmentCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, TargetEquipment)
}

// AlarmState returns the retained state topic for one alarm rule.
func (Topics) AlarmState(rule string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, TargetAlarm, rule)
}

// AlarmCommand returns the command topic for one alarm rule.
func (Topics) AlarmCommand(rule string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, TargetAlarm, rule)
}

// AllAlarmCommands matches every alarm command topic.
func (Topics) AllAlarmCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, TargetAlarm)
}

// EnvironmentState returns the retained environment controller topic.
func (Topics) EnvironmentState() string {
	return TopicPrefix + "/state/environment"
}

// Ack returns the topic carrying the outcome of a command request.
func (Topics) Ack(requestID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, requestID)
}

// ParseCommandTopic splits a command topic into its target kind and name.
//
//	kind, name, ok := Topics{}.ParseCommandTopic("farm/command/equipment/fan-1")
//	// "equipment", "fan-1", true
func (Topics) ParseCommandTopic(topic string) (kind, name string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" || parts[3] == "" {
		return "", "", false
	}
	switch parts[2] {
	case TargetEquipment, TargetAlarm:
		return parts[2], parts[3], true
	default:
		return "", "", false
	}
}
