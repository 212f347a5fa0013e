// Package metrics records facilitator operational metrics.
package metrics

import "time"

// Recorder receives verify/settle outcome counters and latency samples.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, d time.Duration, labels map[string]string)
}

// Event counter names.
const (
	EventVerifyOK     = "verify_ok"
	EventVerifyFailed = "verify_failed"
	EventSettleOK     = "settle_ok"
	EventSettleFailed = "settle_failed"
)

// Operation names for latency histograms.
const (
	OperationVerify = "verify"
	OperationSettle = "settle"
)
