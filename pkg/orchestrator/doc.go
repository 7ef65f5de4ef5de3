// Package orchestrator provisions and destroys whole topologies.
//
// Provision walks kinds in a fixed order (instances, buckets, databases,
// functions), decoding each raw spec in the owning kind module. Optional
// guardrail policies are checked first. A failure stops the remaining specs
// of that kind only; nothing is rolled back. Destroy walks the same order
// backwards and never stops early, so it can be re-run against a partially
// destroyed result: handles already gone report NotFound.
//
// Every run gets an id that is attached to its telemetry events, its spans
// and, when a journal is configured, its audit record.
package orchestrator
