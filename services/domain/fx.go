package domain

import (
	"contentplane/services/license"

	"go.uber.org/fx"
)

var Module = fx.Module("domain.module",
	fx.Provide(
		NewRegistry,
		func(r *Registry) license.SlotPurger { return r },
	),
)
