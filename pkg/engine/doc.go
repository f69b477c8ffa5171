// Package engine holds the domain types and the merge engine of topd.
//
// # Overview
//
// A top maps match specifications (which targets) to lists of state or
// pillar names (what applies), per environment. topd assembles one top from a
// base top file and any number of drop-in fragment files:
//
//  1. Scan - find fragment files for an environment (package scanner)
//  2. Parse - read fragment YAML into raw entries (package fragment)
//  3. Adapt - canonicalize match specifications (package matcher)
//  4. Merge - union everything into a MergedTop (this package)
//
// # Merge semantics
//
// Merge starts from the base entries in their original order. For every
// fragment, in scan order, each entry either appends a new match key with its
// de-duplicated targets or extends an existing key with the targets it does
// not hold yet. Target lists are unions, never replacements, so adding a
// fragment twice is a no-op and the result depends only on scan order.
//
// A fragment entry with no targets contributes nothing. A pattern merged under
// two different match types is a MatchConflictError because the rendered
// mapping could hold only one of them.
//
// # Errors
//
// Every failure the assembly pipeline can report is a typed error carrying an
// ErrorKind. Use KindOf to classify a wrapped error:
//
//	if engine.IsKind(err, engine.ErrorKindFragmentParse) {
//	    // report the offending file
//	}
//
// # Rendering
//
// MergedTop implements yaml.Marshaler and json.Marshaler and keeps entry
// order, so rendering the same inputs twice yields identical bytes.
package engine
