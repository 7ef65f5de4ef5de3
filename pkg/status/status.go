package status

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

// Source lists the current records of one kind.
type Source interface {
	Kind() engine.Kind
	Summaries(ctx context.Context) iter.Seq[engine.Summary]
}

type sourceFunc struct {
	kind engine.Kind
	fn   func(context.Context) iter.Seq[engine.Summary]
}

func (s sourceFunc) Kind() engine.Kind { return s.kind }

func (s sourceFunc) Summaries(ctx context.Context) iter.Seq[engine.Summary] { return s.fn(ctx) }

// SourceFunc adapts a summary function to a Source for kind.
func SourceFunc(kind engine.Kind, fn func(context.Context) iter.Seq[engine.Summary]) Source {
	return sourceFunc{kind: kind, fn: fn}
}

// KindStatus is the inventory of one kind.
type KindStatus struct {
	Kind      engine.Kind          `json:"kind"`
	Count     int                  `json:"count"`
	Totals    map[engine.State]int `json:"totals"`
	Resources []engine.Summary     `json:"resources"`
}

// Snapshot is a read-only view of every kind at one point. Each kind is
// internally consistent; kinds are listed independently.
type Snapshot struct {
	TakenAt time.Time                   `json:"taken_at"`
	Kinds   map[engine.Kind]*KindStatus `json:"kinds"`
}

// Collect lists every source concurrently. Two sources for the same kind
// are rejected.
func Collect(ctx context.Context, sources ...Source) (*Snapshot, error) {
	seen := make(map[engine.Kind]bool, len(sources))
	for _, src := range sources {
		if seen[src.Kind()] {
			return nil, fmt.Errorf("duplicate status source for kind %s", src.Kind())
		}
		seen[src.Kind()] = true
	}

	results := make([]*KindStatus, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			ks := &KindStatus{
				Kind:      src.Kind(),
				Totals:    make(map[engine.State]int),
				Resources: []engine.Summary{},
			}
			for s := range src.Summaries(gctx) {
				if err := gctx.Err(); err != nil {
					return err
				}
				ks.Resources = append(ks.Resources, s)
				ks.Totals[s.State]++
			}
			ks.Count = len(ks.Resources)
			results[i] = ks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to collect status: %w", err)
	}

	snap := &Snapshot{
		TakenAt: time.Now().UTC(),
		Kinds:   make(map[engine.Kind]*KindStatus, len(results)),
	}
	for _, ks := range results {
		snap.Kinds[ks.Kind] = ks
	}
	return snap, nil
}

// Kind returns the inventory of kind, empty when it was not collected.
func (s *Snapshot) Kind(kind engine.Kind) *KindStatus {
	if ks, ok := s.Kinds[kind]; ok {
		return ks
	}
	return &KindStatus{Kind: kind, Totals: map[engine.State]int{}, Resources: []engine.Summary{}}
}

// Total returns the number of records across all kinds.
func (s *Snapshot) Total() int {
	n := 0
	for _, ks := range s.Kinds {
		n += ks.Count
	}
	return n
}

// OrderedKinds returns the collected kinds in provisioning order, followed
// by any auxiliary kinds sorted by name.
func (s *Snapshot) OrderedKinds() []engine.Kind {
	out := make([]engine.Kind, 0, len(s.Kinds))
	for _, k := range engine.ProvisionOrder {
		if _, ok := s.Kinds[k]; ok {
			out = append(out, k)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(s.Kinds)) {
		if !slices.Contains(engine.ProvisionOrder, k) {
			out = append(out, k)
		}
	}
	return out
}
