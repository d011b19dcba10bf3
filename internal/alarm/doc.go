// Package alarm implements the Alarm Engine.
//
// Every refreshed snapshot from the Data Point Store is evaluated against
// each rule's conditions. A rule walks through the states
//
//	inactive -> active -> muted -> active
//	                   -> acknowledge_pending -> inactive   (manual clear)
//	                   -> acknowledged -> inactive          (acknowledged while triggered)
//
// and drives its siren equipment through the equipment command interface.
// A siren is on while any bound rule is active or acknowledge_pending.
// Fail-safe wiring of sirens is the point store's concern; this package
// only ever says on or off.
package alarm
