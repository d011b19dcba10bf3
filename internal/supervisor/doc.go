// Package supervisor runs long-lived goroutines and restarts them when they
// panic or return unexpectedly.
//
// There is no restart budget. A controller that stops running leaves
// physical equipment without supervision, so the supervisor keeps
// restarting it for as long as the context lives. Every restart is logged
// and reported through OnRestart so that a crash loop is visible in metrics.
//
// Example usage:
//
//	sup := supervisor.New()
//	sup.SetLogger(logger)
//	sup.Go(ctx, supervisor.Config{
//	    Name: "equipment/FAN-1",
//	    Run:  controller.Run,
//	    OnRestart: func(attempt int, cause error) {
//	        metrics.IncRestart("equipment/FAN-1")
//	    },
//	})
//	defer sup.Wait()
package supervisor
