// Package maintenance runs periodic background jobs at a configured UTC time of
// day. A run that is still going when the next tick fires causes that tick to
// be skipped; errors and panics are logged per run and never stop the loop.
package maintenance
