package pool

import "go.uber.org/fx"

// Module provides the per-project pool registry.
var Module = fx.Module("pool",
	fx.Provide(NewRegistry),
)
