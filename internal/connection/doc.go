// Package connection implements the upstream market-data link.
//
// The Link:
//   - Maintains exactly one WebSocket connection to the provider
//   - Reconnects after a fixed delay when the connection drops or goes stale
//   - Re-sends the full desired subscription set on every connect
//   - Decodes trade batches into ticks and discards every other frame
package connection
