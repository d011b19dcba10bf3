// Package gateway bridges the control core to MQTT for operator panels,
// calendars and other out-of-process clients.
//
// Inbound, it accepts JSON commands on
//
//	farm/command/equipment/{name}   {"id": "...", "command": "on|off|auto|manual"}
//	farm/command/alarm/{rule}       {"id": "...", "command": "mute|acknowledge", "duration": "15m"}
//
// and answers each one on farm/ack/{id}. A start refused by an interlock is
// answered with status "blocked" and the upstream equipment still stopped.
//
// Outbound, it mirrors every equipment, alarm and environment change from
// the events bus to retained state topics under farm/state/.
package gateway
