// Package preflight provides readiness checks for the engine endpoint, the
// model cache, and the filesystem paths a captioning run depends on.
//
// "glimpse doctor" calls RunAll and renders one row per Result. The
// individual check functions are exported so commands can ask narrower
// questions without paying for the full sweep.
//
// Checks never mutate anything: a failed check describes what is wrong and
// leaves the fix to the operator.
package preflight
