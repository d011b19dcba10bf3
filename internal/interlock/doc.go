// Package interlock implements the safety chain between equipment units.
//
// A rule names an upstream and a downstream unit. While the rule is enabled
// the downstream unit may only start when the upstream unit is confirmed
// running. The engine holds no state beyond its rule set and answers from
// the equipment statuses at the moment it is asked, so it needs no goroutine
// of its own.
//
// Usage:
//
//	il, err := interlock.New(mgr, rules)
//	if err != nil {
//	    return err
//	}
//	mgr.SetInterlock(il)
package interlock
