// Package sim runs a simulation session: the scripts attached to a world,
// their logical threads, and the plugins and native functions they call.
//
// A session is configured first (native functions, plugins, scripts), then
// started with Init and driven with Step from the goroutine that created
// it:
//
//	s, err := sim.New(world, sim.Config{Logger: log})
//	s.AddScript(ctx, script.KindMain, script.NoObject, src, script.Options{Name: "main"})
//	s.Init(ctx)
//	for !s.Stopped() {
//		s.Step(ctx)
//	}
//	s.End(ctx)
//
// Each step calls sysCall_actuation of every unthreaded script, main
// first, then child scripts, customization scripts and add-ons, and then
// resumes each script thread once. Threaded scripts run sysCall_thread on
// their own logical thread and give control back at yield points.
//
// RequestStop starts the stop debounce. Once it elapses, script threads
// are terminated the next time they reach a yield point. End terminates
// what is left, runs sysCall_cleanup and frees deferred callback records.
package sim
