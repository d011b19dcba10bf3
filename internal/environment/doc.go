// Package environment implements the staged climate controller.
//
// Temperature and humidity are averaged across their configured points and
// smoothed over a rolling window of sweeps. The controller picks the
// lowest step whose target is at or above the current temperature (the
// highest step when none is), holds each step for at least the dwell time,
// and starts the step's fans and pumps one at a time with a stagger delay
// between start commands. Pumps are held off while humidity is outside its
// band or unknown.
//
// Members whose panel switch is in manual are left alone and reported as
// panel-controlled.
package environment
