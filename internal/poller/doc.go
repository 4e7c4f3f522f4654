// Package poller implements the fallback quote poller.
//
// The poller:
//   - Polls the REST quote endpoint every interval for each upstream symbol
//   - Skips symbols that produced a live tick within the recency window
//   - Drops quotes without a usable price
//   - Hands valid quotes to the router as source="poll" frames
//   - Optionally sleeps outside the exchange's trading session
package poller
