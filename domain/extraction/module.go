package extraction

import (
	"go.uber.org/fx"

	"github.com/rowforge/extractqueue/domain/queue/worker"
	"github.com/rowforge/extractqueue/internal/storage"
)

// Module provides the Pipeline and binds it as the Worker Loop's
// Dispatcher.
var Module = fx.Module("extraction",
	fx.Provide(asImageSource),
	fx.Provide(
		fx.Annotate(
			New,
			fx.As(new(worker.Dispatcher)),
		),
	),
)

// asImageSource lets fx satisfy the Pipeline's ImageSource dependency from
// the already-provided *storage.Service without storage importing this
// package back.
func asImageSource(s *storage.Service) ImageSource {
	return s
}
