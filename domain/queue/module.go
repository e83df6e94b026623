package queue

import "go.uber.org/fx"

// Module provides the queue domain: the durable Store, the Manager that
// wraps it, and the §6 Queue API HTTP surface.
var Module = fx.Module("queue",
	fx.Provide(NewStoreFromConfig),
	fx.Provide(NewManager),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
