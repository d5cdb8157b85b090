package notification

import (
	"go.uber.org/fx"

	"github.com/hearthlabs/hearth/internal/notification/service"
)

var Module = fx.Module("notification",
	fx.Provide(service.NewService),
)
