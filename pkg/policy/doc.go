// Package policy evaluates topology specs against Open Policy Agent (OPA)
// guardrails before they are provisioned.
//
// Each policy is a Rego module exposing a `deny` set. Elements are either a
// message string or an object:
//
//	package cloudsim.no_large_disks
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.kind == "database"
//	    input.spec.allocated_storage > 1000
//	    violation := {"message": "database too large", "severity": "error"}
//	}
//
// The input document has the shape
//
//	{"kind": "bucket", "name": "logs", "spec": {...}, "context": {"environment": "production", "operation": "provision"}}
//
// where spec is the raw topology entry exactly as it was loaded.
//
// A violation with severity "error" denies the spec; "warning" and "info"
// violations are reported only. Built-in policies flag unencrypted buckets,
// untagged resources and single-AZ production databases as warnings, and
// deny buckets with a public-read-write ACL.
//
// Additional policies are read from .rego files (or .json definitions
// carrying a "rego" field) by a Loader, which can also watch the directory
// with fsnotify and hot-reload an Engine:
//
//	eng, _ := policy.NewEngine(ctx, policy.WithEnvironment("production"))
//	loader, err := eng.Watch(ctx, []string{"./policies"})
//	defer loader.StopWatching()
//
//	res, _ := eng.EvaluateSpec(ctx, engine.KindBucket, spec)
//	if err := res.Err(engine.KindBucket, policy.SpecName(engine.KindBucket, spec)); err != nil {
//	    // err matches engine.ErrPolicyDenied
//	}
package policy
