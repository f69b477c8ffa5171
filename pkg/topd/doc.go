// Package topd assembles Salt top data from a base top file and the drop-in
// fragments installed below each root's marker directory.
//
// GetTop is the stateless entry point the host runtime calls. An Assembler
// carries the optional policy gate, output schema check and render history,
// and also answers status questions and links fragments in and out of the
// marker directory. A Watcher re-renders on filesystem changes.
//
// Every render rescans the filesystem; nothing is cached between calls, and
// a render either returns a complete top or an error.
package topd
