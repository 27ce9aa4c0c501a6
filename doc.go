// Package recordstream provides a record management service with an
// asynchronous job pipeline over NATS JetStream.
//
// # Architecture
//
// The service splits work into a synchronous CRUD path and an
// asynchronous bulk path:
//
//	┌─────────────────────────────────────┐
//	│          HTTP Gateway               │  REST surface, job polling
//	│       (gateway/http, chi)           │
//	└─────────────────────────────────────┘
//	           ↓ calls
//	┌─────────────────────────────────────┐
//	│          Dispatcher                 │  Validates, executes CRUD,
//	│          (dispatch)                 │  enqueues bulk jobs
//	└─────────────────────────────────────┘
//	     ↓ direct                ↓ envelope
//	┌───────────────┐   ┌─────────────────┐
//	│  Record Store │   │  Durable Queue  │  JetStream work queue,
//	│    (store)    │   │    (broker)     │  at-least-once delivery
//	└───────────────┘   └────────┬────────┘
//	           ↑ applies         ↓ delivers
//	┌─────────────────────────────────────┐
//	│          Worker Loop                │  Claims jobs through the
//	│      (worker, ledger, batch)        │  idempotency ledger, runs
//	└─────────────────────────────────────┘  parallel batch processing
//
// Synchronous operations (create, read, update, delete, list) go
// straight through the dispatcher to the versioned in-memory store.
// Bulk operations (CSV import and export) are wrapped in a job
// envelope, enqueued on a JetStream work queue, and executed by the
// worker loop. The ledger keyed by correlation id makes redeliveries
// safe: a job that already reached a terminal state is acknowledged
// without running again.
//
// # Packages
//
//   - store: concurrent in-memory record store with optimistic versioning
//   - record, csvcodec: record model, validation, CSV wire format
//   - batch: chunked parallel processing with strict and partial modes
//   - envelope, broker: job wire format and queue transport (NATS or in-memory)
//   - ledger, results: idempotency ledger and result storage over JetStream KV
//   - dispatch, worker: request side and consumer side of the pipeline
//   - gateway/http: REST API
//   - natsclient: managed NATS connection with circuit breaker and KV helpers
//   - metric: Prometheus instrumentation
//   - config, cmd: configuration and the api / worker binaries
package recordstream
