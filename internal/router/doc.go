// Package router fans market data out to attached client connections.
//
// Ticks arrive from the upstream link and quotes from the fallback poller.
// Both are encoded once, delivered to every connection the registry reports
// as interested in the symbol, and handed to the alert evaluator. A slow or
// broken connection never holds up delivery to the others.
package router
