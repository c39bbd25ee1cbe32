// Package session manages anonymous upload sessions. It holds ephemeral
// per-session fields in memory, keyed by caller-supplied session IDs, and
// evicts sessions that stay inactive past a configurable window.
package session
