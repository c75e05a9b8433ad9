// Package simscript runs many independently written scripts and wasm
// plugins inside one simulation process.
//
// Scripts run on logical threads that switch only at yield points, so at
// most one of them executes at a time. They call native functions, plugin
// functions and each other through a dispatcher, and every value crossing
// those boundaries travels on a typed value stack.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	simscript/
//	├── errors/      Structured error types with phase and kind
//	├── resource/    Generic handle tables
//	├── value/       The typed value model shared by every boundary
//	├── stack/       Value stacks, their wire codec and the Lua bridge
//	├── script/      Script contexts, forbid levels and callback records
//	├── scheduler/   Logical threads, yield decisions and stop handling
//	├── hook/        Call tracing and the periodic scheduling tick
//	├── dispatch/    Bound functions, legacy aliases and call dispatch
//	├── plugin/      wasm plugin host on wazero
//	├── luavm/       One gopher-lua state per script, wired to the above
//	├── sim/         The session lifecycle: init, step, stop, end
//	└── cmd/simrun   Runs a YAML manifest, optionally with a TUI
//
// # Quick Start
//
// Run a session with one threaded script:
//
//	s, err := sim.New(nil, sim.Config{Logger: log})
//	if err != nil {
//		return err
//	}
//	s.AddScript(ctx, script.KindAddOn, script.NoObject, `
//	function sysCall_thread()
//	  while true do
//	    print(sim.getSimulationTime())
//	    sim.switchThread()
//	  end
//	end`, script.Options{Name: "ticker", Threaded: true})
//	s.Init(ctx)
//	for i := 0; i < 10; i++ {
//		s.Step(ctx)
//	}
//	s.End(ctx)
//
// # Threads
//
// The goroutine that creates a session is the main simulation thread.
// Threaded scripts get a worker thread each. A worker gives control back
// when it calls sim.switchThread, waits on a plugin, calls a script on
// another thread, or when its automatic-switch delay elapses at a hook
// tick. sim.setThreadAutomaticSwitch(false) holds automatic switches until
// it is undone.
//
// # Errors
//
// All errors are *errors.Error values carrying a phase and a kind:
//
//	if errors.IsKind(err, errors.KindNotFound) {
//		// unknown function or script
//	}
package simscript
