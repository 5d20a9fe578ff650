// Package services defines shared utilities consumed by the batch pipeline
// and the external engine integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and in-flight image
//     names for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification (which stage, fatal or recorded) uniform across the
//     pipeline.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability) stays consistent.
package services
