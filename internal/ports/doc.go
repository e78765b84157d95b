// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// # Port Interfaces
//
//   - [RecordStore]: Durable record persistence with per-record delivery state
//   - [Transport]: Sends batches of records to the collection service
//   - [IdentifierStore]: Persists the anonymous install identifier
//   - [Logger]: Structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//   - [ResourceGate]: Host load check consulted before delivery
//
// # Usage
//
// The application layer (internal/app, internal/crash, internal/telemetry)
// depends only on these interfaces. Infrastructure adapters
// (internal/adapters) implement them with concrete file system, HTTP and
// logging code.
package ports
