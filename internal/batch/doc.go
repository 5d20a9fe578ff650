// Package batch runs the captioning pipeline end to end for one directory.
//
// A Runner gates uncached model pulls against disk headroom, scans and
// validates the requested directory, loads the model through the resource
// manager, captions every valid image in scan order, exports the accumulated
// results, and records the run in history. Per-image failures are collected
// rather than fatal; the model is released on every exit path, including
// cancellation and failed loads.
package batch
