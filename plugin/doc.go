// Package plugin loads WebAssembly plugins and binds their entry points
// as dispatcher functions.
//
// A plugin is a core WebAssembly module run by wazero. Every exported
// function named sim_<name> with signature (i32, i32, i32, i32) -> () is
// registered as "<plugin>.<name>". The four arguments are the calling
// script's object, its script handle, the argument stack id and the
// callback record id.
//
// Plugins reach the stack and record through the "simscript" host module:
//
//	stack_size(stack) -> i32
//	stack_pop_number(stack) -> f64
//	stack_push_number(stack, f64)
//	stack_pop_bool(stack) -> i32
//	stack_push_bool(stack, i32)
//	stack_pop_string(stack, ptr, cap) -> i32
//	stack_push_string(stack, ptr, len)
//	stack_push_nil(stack)
//	stack_clear(stack)
//	set_error(record, ptr, len)
//	set_wait(record, i32)
//
// stack_pop_string returns the string length. When the string does not fit
// in cap bytes nothing is popped, so the plugin can retry with a larger
// buffer. A failing stack operation does not trap: its error is kept for
// the stack and returned as an argument error once the entry point
// returns. Imports and exports are checked before compilation.
package plugin
