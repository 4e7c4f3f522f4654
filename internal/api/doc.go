// Package api provides the Finnhub REST client used by the fallback poller.
//
// REST endpoint:
//   - https://finnhub.io/api/v1
//
// Requests authenticate with the token query parameter. The free tier allows
// about 60 requests per minute, so the client carries its own rate limiter.
package api
