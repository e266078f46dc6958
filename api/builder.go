package api

import (
	"log/slog"
	"time"
)

// DriverBuilder constructs a Driver from required constructor
// arguments plus chainable optional overrides.
type DriverBuilder interface {
	// Build assembles the Driver. It does not call Start.
	Build() (Driver, error)

	// WithConfig overrides RSMConfig. Defaults to DefaultConfig().
	WithConfig(*RSMConfig) DriverBuilder

	// WithLogger overrides the *slog.Logger. Defaults to one built
	// from RSMConfig.Log.Env.
	WithLogger(*slog.Logger) DriverBuilder

	// WithApplyTimeout overrides RSMConfig.InstanceFetchTimeout, the
	// bound the apply loop gives each Coordinator.Instance call before
	// treating a slot as undecided-for-now and running catch-up.
	WithApplyTimeout(time.Duration) DriverBuilder
}
