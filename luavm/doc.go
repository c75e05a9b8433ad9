// Package luavm runs scripts in embedded Lua states.
//
// Each script gets its own *lua.LState. Every function and variable
// registered with the dispatcher is installed as a global, with dotted
// names turned into nested tables, so "sim.getLastError" is reachable as
// sim.getLastError(). A VM is also the dispatch.Runner of its script:
// sim.callScriptFunction from another script ends up in CallFunction.
//
// # Hooks
//
// Calls to bound functions and calls made into the script by the host
// are reported to the script's hook.Hook as call and return events.
// Instruction counting piggybacks on the interpreter's per-instruction
// context check: the state runs under a context whose Done method counts
// instructions down and runs the scheduler's yield decision when the
// count reaches zero. coroutine.create and coroutine.wrap are replaced so
// that coroutines run under the same context and share the count.
//
// # Errors
//
// A failing bound call is reported through dispatch.Report. Raised
// errors read
//
//	<line>: <message> (in function '<name>')
//
// and the traceback of the last failed host call is kept as the script's
// last traceback.
package luavm
