// Package dedupe remembers keys until a per-key deadline. The token codec
// uses it to reject a second use of a single-use token before it expires.
package dedupe
