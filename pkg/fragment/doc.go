// Package fragment parses drop-in fragment files and base top files.
//
// A fragment is a YAML mapping from a match token to its targets:
//
//	'*':
//	  - core
//	web*:
//	  - webstate
//	os:Debian:
//	  - match: grain
//	  - apt
//
// A target list may hold one {match: <type>} item naming the match type; a
// single scalar is a one-element list and null is an empty list. Empty files
// are empty fragments. Base top files add one level keyed by environment.
//
// Parsing keeps entry order and source positions. Canonicalizing match
// specifications is left to package matcher.
package fragment
