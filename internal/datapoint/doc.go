// Package datapoint implements the Data Point Store: the polling engine that
// turns every configured protocol binding into a named value with a
// timestamp.
//
// One worker goroutine owns each port and serializes every read and write
// on that port's adapter, so a stuck serial bus never blocks a healthy TCP
// device. A sweep fans out to all workers in parallel, applies the results
// to the cache in one step, evaluates virtual points and then broadcasts an
// immutable Snapshot to every subscriber. Every actor that reacts to a
// sweep therefore sees the same mutually consistent view.
//
// Engineering-unit scaling and normally-closed inversion are applied here,
// at the boundary. Consumers only ever see logical values.
//
// Usage:
//
//	store, err := datapoint.New(ports, points, datapoint.Options{PollInterval: time.Second})
//	if err != nil {
//	    return err
//	}
//	store.Start(ctx)
//	defer store.Close()
//
//	updates, cancel := store.Subscribe()
//	defer cancel()
//	for snap := range updates {
//	    r, _ := snap.Get("TEMP-1")
//	    ...
//	}
package datapoint
