// Package api serves an orchestrator over HTTP.
//
// Routes:
//
//	POST   /v1/provision                      topology document (YAML or JSON)
//	POST   /v1/destroy                        {"handles": [...], "force_buckets": bool}
//	GET    /v1/status
//	GET    /v1/instances?state=running,stopped
//	GET    /v1/instances/{id}
//	POST   /v1/instances/{id}/{stop|start|reboot|terminate|tags}
//	GET    /v1/buckets/{bucket}
//	GET    /v1/buckets/{bucket}/objects?prefix=
//	PUT    /v1/buckets/{bucket}/objects/{key...}
//	GET    /v1/buckets/{bucket}/objects/{key...}?version=N
//	DELETE /v1/buckets/{bucket}/objects/{key...}
//	GET    /v1/functions/{name}
//	POST   /v1/functions/{name}/invoke?type=RequestResponse|Event|DryRun
//	GET    /healthz
//	GET    /metrics
//
// Errors are returned as {"error": {...}} with the status chosen by error
// class: invalid 400, missing 404, conflict 409, denied 422.
package api
