// Package engine provides the core types shared by every CloudSim component.
//
// # Overview
//
// CloudSim simulates the lifecycle of cloud resources entirely in memory.
// Four provisionable kinds exist (instance, bucket, database, function) plus
// the auxiliary snapshot kind used for detached database snapshots.
//
// # Core Domain Types
//
//   - Record: the common resource record (id, kind, name, state, attributes, tags)
//   - Attributes: the kind-specific payload stored inside a Record
//   - Filter: an exact-match predicate used by registry listings
//   - StateMachine: the legal transitions of one kind
//   - RawSpec: an untyped resource description decoded with DecodeSpec
//
// # Error Classification
//
// Every failure surfaced by the engine is an *EngineError carrying a code:
//
//   - VALIDATION_ERROR: input violates a kind-specific constraint
//   - NOT_FOUND: the target resource does not exist
//   - DUPLICATE_NAME: a natural key collides within its kind
//   - INVALID_STATE_TRANSITION: the operation is illegal in the current state
//   - BUCKET_NOT_EMPTY: a bucket still holds objects
//   - POLICY_DENIED: a guardrail policy rejected the spec
//
// Use errors.Is with the package sentinels:
//
//	if errors.Is(err, engine.ErrNotFound) {
//	    // ...
//	}
package engine
