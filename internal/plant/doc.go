// Package plant loads the plant description: ports, data points,
// equipment with their role bindings, interlock rules, alarm rules and the
// environment ladder.
//
// The file is read once at startup and cross-validated as a whole, so a
// reference to an unknown point or equipment is caught before anything
// touches the field bus. It is immutable for the life of the process.
package plant
