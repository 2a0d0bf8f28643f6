package pushsubscription

import (
	"github.com/smallbiznis/pushrelay/internal/pushsubscription/repository"
	"github.com/smallbiznis/pushrelay/internal/pushsubscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pushsubscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
