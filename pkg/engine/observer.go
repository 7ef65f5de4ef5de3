package engine

import "context"

// Action names a lifecycle operation applied to a resource.
type Action string

const (
	ActionCreate    Action = "create"
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionReboot    Action = "reboot"
	ActionTerminate Action = "terminate"
	ActionModify    Action = "modify"
	ActionSnapshot  Action = "snapshot"
	ActionDelete    Action = "delete"
	ActionInvoke    Action = "invoke"
	ActionTag       Action = "tag"
	ActionPut       Action = "put_object"
	ActionRemove    Action = "delete_object"
)

// Change describes one observed lifecycle step.
type Change struct {
	Kind   Kind   `json:"kind"`
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Action Action `json:"action"`
	From   State  `json:"from,omitempty"`
	To     State  `json:"to,omitempty"`
	Err    error  `json:"-"`
}

// Observer receives lifecycle changes from the kind managers. Observers run
// synchronously on the caller's goroutine and must not call back into the
// manager that notified them.
type Observer interface {
	Observe(ctx context.Context, c Change)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, c Change)

// Observe calls f(ctx, c).
func (f ObserverFunc) Observe(ctx context.Context, c Change) {
	f(ctx, c)
}

// Observers fans a change out to several observers in order.
type Observers []Observer

// Observe notifies every non-nil observer.
func (o Observers) Observe(ctx context.Context, c Change) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, c)
		}
	}
}

// Handle identifies a resource created by a provision run.
type Handle struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Key returns the identifier a kind manager addresses the resource by: the
// natural key when one exists, the id otherwise.
func (h Handle) Key() string {
	if h.Name != "" {
		return h.Name
	}
	return h.ID
}

// Summary is the status-facing view of one record.
type Summary struct {
	ID      string            `json:"id"`
	Name    string            `json:"name,omitempty"`
	State   State             `json:"state"`
	Details map[string]string `json:"details,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}
