// Package telemetry turns instrumentation events into durable records.
//
// The Collector applies the configured policies (per-kind disable flags,
// deterministic NetworkEvent sampling and a rate limit) and appends what is
// kept to the record store. It also owns the current session and the last
// known user identity.
package telemetry
