package health

import (
	"context"
	"log/slog"

	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
)

// Component is one declarative unit of client configuration. Components
// are independent of each other; Configure sees them in no particular
// order.
type Component interface {
	Requirements() models.AccessRequirements
	Configure(ctx context.Context, r Registrar)
}

// Registrar is the part of a client that components configure against.
type Registrar interface {
	Sink() platform.Sink
	Logger() *slog.Logger
	RegisterCollector(ctx context.Context, spec CollectorSpec)
}

// CollectorSpec describes the collector a CollectRecord component asks for.
type CollectorSpec struct {
	Type      models.RecordType
	Setting   models.DeliverySetting
	TimeRange models.TimeRange
	// Predicate filters collected upserts; nil keeps everything.
	Predicate models.Predicate
}

type accessComponent struct {
	req models.AccessRequirements
}

func (a accessComponent) Requirements() models.AccessRequirements {
	return a.req
}

func (accessComponent) Configure(context.Context, Registrar) {}

// RequestReadAccess declares that the app reads the given types.
func RequestReadAccess(types ...models.RecordType) Component {
	return accessComponent{req: models.ReadAccess(types...)}
}

// RequestWriteAccess declares that the app writes the given types.
func RequestWriteAccess(types ...models.RecordType) Component {
	return accessComponent{req: models.WriteAccess(types...)}
}

type collectComponent struct {
	spec CollectorSpec
}

// CollectRecord declares a collector for spec.Type. It implies read access
// to that type. Without a sink the component is skipped at configure time.
func CollectRecord(spec CollectorSpec) Component {
	return collectComponent{spec: spec}
}

func (c collectComponent) Requirements() models.AccessRequirements {
	return models.ReadAccess(c.spec.Type)
}

func (c collectComponent) Configure(ctx context.Context, r Registrar) {
	if r.Sink() == nil {
		r.Logger().Warn("collect record configured without a sink, skipping", "type", c.spec.Type.ID())
		return
	}
	r.RegisterCollector(ctx, c.spec)
}
