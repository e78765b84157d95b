// Package domain contains the core entities and value objects for predem.
//
// This package is the innermost layer of the agent. It has no dependencies
// on infrastructure concerns (HTTP, file system, logging) and holds only the
// record model and its rules.
//
// # Entities
//
//   - [Record]: one durable unit of captured data (crash report or telemetry event)
//   - [Batch]: the ordered records claimed for one delivery attempt
//   - [DeliveryResult]: per-record outcome of a delivery attempt
//   - [Session]: a bounded period of host activity
//
// # Record States
//
// Every record moves Pending -> InFlight -> Delivered, or back to Pending on a
// failed attempt, or to Abandoned once its attempt count reaches the retry
// ceiling. Delivered and Abandoned are terminal. See [State.CanTransition].
package domain
