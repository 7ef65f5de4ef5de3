// Package stores provides the audit journal for CloudSim runs. Runs and
// their events are kept in SQLite, in memory by default, with schema
// migrations embedded in the binary.
package stores
