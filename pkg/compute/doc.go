// Package compute simulates virtual compute instances.
//
// Instances move through pending, running, stopped and terminated:
//
//	pending -> running -> stopped -> running -> ... -> terminated
//
// Creation boots synchronously, so a successful CreateInstance returns an
// instance that is already running. Stop is only legal from running, start
// only from stopped, and terminate from any state except terminated.
// Terminated instances stay listed.
package compute
