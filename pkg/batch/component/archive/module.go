package archive

import "go.uber.org/fx"

// Module provides the partition.Archiver consumed by the partition Provider.
var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
