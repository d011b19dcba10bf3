// Package equipment implements the per-equipment controller actors and the
// Manager that exposes their command and query interface.
//
// Each Equipment runs as one Controller goroutine under the supervisor. A
// controller owns its state exclusively and changes it only in response to
// a store refresh or a command delivered on its channel. On every refresh
// it:
//
//  1. reads its role points (output, running feedback, mode switch) from the
//     snapshot;
//  2. lets a wired mode switch decide the mode;
//  3. writes the output when commanded_on differs from actual_on;
//  4. classifies faults, debouncing consistency faults over several sweeps.
//
// Switching to auto always clears commanded_on before any write happens in
// that step, so automation starts from a known-off state. Start requests are
// checked against the Interlock first and rejected with a *BlockedError when
// an upstream is not running.
//
// The Manager keeps the latest Status of every controller in a map so
// queries and interlock checks never wait on another actor.
package equipment
