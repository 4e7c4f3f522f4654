// Package alerts evaluates price observations against user price alerts.
//
// Every tick or polled quote is submitted to the Evaluator, which runs the
// store's atomic "mark triggered" operation on a small worker pool and hands
// the resulting triggers to a Notifier. Submission never blocks the fan-out
// path; outcomes are logged and counted.
package alerts
