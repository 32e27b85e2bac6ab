// Package eventlog buffers audit events for the duration of a request and
// writes them to the store in a single transaction when the request ends.
//
// Handlers call Record with the request context. Nothing touches the
// database until the middleware flushes. A request that panics loses its
// buffered events; a request that fails normally (including with an error
// status) still has its events written.
package eventlog
