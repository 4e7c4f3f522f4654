// Package registry implements the subscription registry.
//
// The registry is the single owner of per-client interest sets and the
// alert-symbol set. A symbol is streamed upstream iff at least one client is
// interested in it or at least one untriggered alert watches it. Upstream
// commands are issued only when a symbol enters or leaves that union.
//
// A periodic sweep refreshes alert symbols from the alert store and rebuilds
// the union from authoritative state.
package registry
