// Package registry is the authoritative in-memory store of CloudSim
// resource records.
//
// A Registry is constructed explicitly and injected into every kind
// manager; there is no package-level instance. Records are keyed by a
// generated id and, optionally, by a natural key (bucket name, database
// identifier, function name) that must be unique within its kind.
//
// Mutations go through Update, which hands the caller a private copy and
// publishes it only on success, so a check-then-transition sequence is
// atomic with respect to other callers of the same kind. Reads return
// copies; a caller can never observe a half-applied mutation.
//
//	reg := registry.New()
//	rec, _ := reg.Create(engine.KindInstance, engine.Draft{State: "pending"})
//	for r := range reg.List(engine.KindInstance, engine.Filter{}) {
//	    fmt.Println(r.ID, r.State)
//	}
package registry
