// Package session runs the lifecycle of one downstream client connection:
// authenticate, apply subscribe and unsubscribe commands in order, and
// release every interest when the connection ends.
package session
