// Package server exposes the gateway over HTTP.
//
// Routes:
//   - GET  /ws                      client WebSocket (token query parameter)
//   - GET  /health                  component status
//   - GET  /debug/subscriptions     registry snapshot
//   - POST /internal/alerts/refresh re-read alert symbols now
package server
