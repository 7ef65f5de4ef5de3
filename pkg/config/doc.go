// Package config loads topologies and process settings.
//
// # Topologies
//
// A topology maps resource kinds to ordered lists of raw specs. LoadTopology
// accepts four encodings, chosen by file extension:
//
//   - .yaml, .yml and .json are decoded as plain data
//   - .star scripts run in a sandboxed Starlark interpreter and must assign
//     the global "topology"
//   - .cue files are evaluated and exported as concrete data
//
// Top-level keys accept the provider-style aliases (ec2, s3, rds, lambda) as
// well as the kind names. Unknown keys and two keys naming the same kind are
// rejected.
//
//	topology:
//	    instances:
//	      - instance_type: t2.micro
//	        tags: {Name: web-server-1}
//	    s3:
//	      - bucket_name: my-app-data-bucket
//	        versioning: true
//
// A Starlark script can build the same structure procedurally:
//
//	topology = {
//	    "ec2": [{"instance_type": "t2.micro", "tags": {"Name": "web-%d" % i}} for i in range(3)],
//	}
//
// # Schemas
//
// SchemaRegistry lints a topology with CUE schemas before anything is
// provisioned. The schemas are open, so keys they do not list are accepted,
// and each problem is reported as an Issue with its path.
//
// # Settings
//
// LoadSettings reads an optional YAML, JSON or TOML file through viper and
// applies CLOUDSIM_* environment overrides, e.g. CLOUDSIM_LOG_LEVEL=debug or
// CLOUDSIM_SERVER_ADDRESS=:9090.
package config
