package policy

// Built-in guardrails. Every module exposes `deny` as a set of objects with
// a message and, optionally, a severity overriding the policy default.

const bucketEncryptionPolicy = `# Buckets should be encrypted at rest.
package cloudsim.bucket_encryption

import rego.v1

unencrypted if input.spec.encryption == false

unencrypted if input.spec.encryption == "none"

deny contains violation if {
	input.kind == "bucket"
	unencrypted
	violation := {
		"message": sprintf("bucket %q is not encrypted at rest", [input.name]),
		"severity": "warning",
	}
}
`

const bucketPublicWritePolicy = `# Buckets must not be writable by anyone.
package cloudsim.bucket_public_write

import rego.v1

deny contains violation if {
	input.kind == "bucket"
	input.spec.acl == "public-read-write"
	violation := {
		"message": sprintf("bucket %q grants public write access", [input.name]),
		"severity": "error",
	}
}
`

const requiredTagsPolicy = `# Every provisioned resource should carry at least one tag.
package cloudsim.required_tags

import rego.v1

deny contains violation if {
	count(object.get(input.spec, "tags", {})) == 0
	violation := {
		"message": sprintf("%s %q has no tags", [input.kind, label]),
		"severity": "warning",
	}
}

label := input.name if {
	input.name != ""
} else := "(unnamed)"
`

const databaseMultiAZPolicy = `# Production databases should span availability zones.
package cloudsim.database_multi_az

import rego.v1

deny contains violation if {
	input.kind == "database"
	input.context.environment == "production"
	not input.spec.multi_az == true
	violation := {
		"message": sprintf("database %q runs in a single availability zone", [input.name]),
		"severity": "warning",
	}
}
`

// BuiltinPolicies returns the guardrails shipped with the binary.
func BuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "bucket-encryption",
			Description: "Buckets should be encrypted at rest.",
			Rego:        bucketEncryptionPolicy,
			Severity:    SeverityWarning,
			Enabled:     true,
			Builtin:     true,
		},
		{
			Name:        "bucket-public-write",
			Description: "Buckets must not be writable by anyone.",
			Rego:        bucketPublicWritePolicy,
			Severity:    SeverityError,
			Enabled:     true,
			Builtin:     true,
		},
		{
			Name:        "required-tags",
			Description: "Every provisioned resource should carry at least one tag.",
			Rego:        requiredTagsPolicy,
			Severity:    SeverityWarning,
			Enabled:     true,
			Builtin:     true,
		},
		{
			Name:        "database-multi-az",
			Description: "Production databases should span availability zones.",
			Rego:        databaseMultiAZPolicy,
			Severity:    SeverityWarning,
			Enabled:     true,
			Builtin:     true,
		},
	}
}
