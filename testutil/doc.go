// Package testutil provides shared helpers for integration tests.
//
// StartNATS boots a throwaway NATS server with JetStream enabled via
// testcontainers and returns its client URL; the container is torn down
// through t.Cleanup. Records and CSVDocument generate deterministic
// record fixtures and a matching CSV document for import and export
// round trips.
//
// The package never imports natsclient, so in-package tests there can
// use it without an import cycle.
package testutil
