// Package status builds consolidated, read-only inventories of simulated
// resources. Collect has no side effects; each kind's listing comes from the
// registry as a consistent snapshot.
package status
