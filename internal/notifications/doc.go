// Package notifications delivers optional push notifications about run
// outcomes through ntfy.
//
// The Service interface keeps callers independent of delivery details; a
// noop implementation stands in when no topic is configured. Completion and
// error notifications are gated independently by configuration.
package notifications
