// Package internal holds identifier generation and the opaque refresh-token
// codec shared by the engine and its stores. Nothing here is part of the
// public API surface.
package internal
