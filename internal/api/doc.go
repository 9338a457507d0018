// Package api implements the HTTP layer: request decoding and validation,
// mapping domain errors to status codes, and the chi route table. Handlers
// stay thin; all task and sync semantics live in the store and syncer
// packages.
package api
