package ledger

import (
	"go.uber.org/fx"

	"github.com/hearthlabs/hearth/internal/ledger/repository"
)

var Module = fx.Module("ledger",
	fx.Provide(repository.New),
)
