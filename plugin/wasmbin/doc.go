// Package wasmbin reads and writes the subset of the WebAssembly binary
// format that simscript plugins use: function types, function imports,
// memories, exports, code and active data segments.
//
// Parse is used to check a plugin's exports and imports before it is
// compiled, so ABI mistakes surface as load errors naming the offending
// export rather than as link failures. Encode builds small modules in
// tests and tooling.
//
// Sections the plugin ABI does not care about (tables, globals, elements,
// start, custom) are skipped by Parse and never written by Encode.
package wasmbin
