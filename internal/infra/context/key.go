// Package context provides typed accessors for request-scoped values.
package context

// contextKey is a private type for context value keys to avoid collisions
// with keys defined by other packages.
type contextKey string
