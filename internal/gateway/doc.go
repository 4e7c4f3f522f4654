// Package gateway assembles the price-alert gateway from its components and
// runs them as one unit.
//
// Startup order: alert evaluator, subscription registry (initial alert
// refresh), upstream link, fallback poller, HTTP server. Shutdown runs the
// reverse once the run context is canceled.
package gateway
