// Package mqtt provides MQTT client connectivity for the farm control core.
//
// The broker is the boundary between the core and its out-of-scope
// collaborators (dashboard, scheduling calendars, loggers). The core
// publishes retained equipment, alarm and environment state and accepts
// commands on per-equipment and per-alarm command topics.
//
// This package manages:
//   - Connection to the broker with background retry
//   - Publishing with QoS guarantees
//   - Subscriptions, accepted while offline and restored after reconnect
//   - Last Will and Testament (LWT) carrying the site ID
//
// # Topic layout
//
//	farm/system/status                 online/offline (retained, LWT)
//	farm/state/equipment/{name}        status snapshot (retained)
//	farm/state/alarm/{rule}            alarm state (retained)
//	farm/state/environment             active step and readings (retained)
//	farm/command/equipment/{name}      {"id":"...","command":"on"}
//	farm/command/alarm/{rule}          {"id":"...","command":"mute","duration":"10m"}
//	farm/ack/{request_id}              command outcome
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, cfg.Site.ID)
//	defer client.Close()
//	if err := client.Connect(ctx); err != nil {
//	    log.Warn("broker unreachable, retrying in background", "error", err)
//	}
//
//	err = client.Subscribe(mqtt.Topics{}.AllEquipmentCommands(), 1, handler)
package mqtt
