package rsm

import (
	"log/slog"
	"time"

	"github.com/parliament/rsm-core/api"
	"github.com/parliament/rsm-core/pkg/logger"
)

type driverBuilder struct {
	// required
	persistence api.Persistence
	sequence    api.Sequence
	coordinator api.Coordinator

	// optional with defaults
	cfg    *api.RSMConfig
	logger *slog.Logger
}

// NewBuilder returns a builder for a Driver backed by persistence,
// sequence and coordinator. persistence and sequence must survive
// process restarts consistently with each other; coordinator must be
// shared across every node applying the same stream of decisions.
func NewBuilder(
	persistence api.Persistence,
	sequence api.Sequence,
	coordinator api.Coordinator,
) api.DriverBuilder {
	return &driverBuilder{
		persistence: persistence,
		sequence:    sequence,
		coordinator: coordinator,
		cfg:         api.DefaultConfig(),
	}
}

func (b *driverBuilder) Build() (api.Driver, error) {
	log := b.logger
	if log == nil {
		log = logger.NewLogger(b.cfg.Log.Env, b.cfg.Log.AddSource)
	}

	return newDriver(b.persistence, b.sequence, b.coordinator, b.cfg, log), nil
}

func (b *driverBuilder) WithConfig(cfg *api.RSMConfig) api.DriverBuilder {
	b.cfg = cfg
	return b
}

func (b *driverBuilder) WithLogger(l *slog.Logger) api.DriverBuilder {
	b.logger = l
	return b
}

func (b *driverBuilder) WithApplyTimeout(d time.Duration) api.DriverBuilder {
	b.cfg.InstanceFetchTimeout = d
	return b
}
