// Package compute derives page-load performance metrics from a decoded trace.
//
// lognormal.go fits the log-normal scoring curve from a (median, point of
// diminishing returns) pair and maps raw values to 0-100 scores. Default
// calibrations live in calibration.go and can be overridden per metric.
//
// risk.go estimates input queueing delay ("Estimated Input Latency") at
// percentiles of arrival time, sweeping task durations smallest first.
//
// quiet.go finds the first main-thread quiet window after the paint using a
// required window that decays from 5s towards 1s as time passes. overlap.go
// pairs CPU-quiet and network-quiet periods for consistently interactive.
// interactive.go wires both into milestone functions with their milestone and
// trace-length checks.
//
// chains.go walks the critical request chain forest iteratively.
//
// engine.go provides the Engine that turns a source.Bundle into a
// types.Report. Everything below the Engine is a pure function of its
// arguments; the Engine only holds the scoring calibration, which may be
// swapped while it runs. Engine.Analyze accepts an injectable time.Time so
// tests are deterministic.
package compute
