package collector

import "tangled.sh/tangled.sh/healthsync/health/models"

// Action is the outcome of registering a collector for a record type.
type Action int

const (
	Add Action = iota
	Replace
	Ignore
)

func (a Action) String() string {
	switch a {
	case Add:
		return "add"
	case Replace:
		return "replace"
	default:
		return "ignore"
	}
}

// Decide resolves a registration against the collector already registered
// for the same record type, if any. A collector that keeps running in the
// background is never downgraded; it only displaces one that does not.
func Decide(existing *models.DeliverySetting, incoming models.DeliverySetting) Action {
	switch {
	case existing == nil:
		return Add
	case *existing == incoming:
		return Ignore
	case existing.ContinueInBackground && !incoming.ContinueInBackground:
		return Ignore
	case !existing.ContinueInBackground && incoming.ContinueInBackground:
		return Replace
	default:
		return Ignore
	}
}
