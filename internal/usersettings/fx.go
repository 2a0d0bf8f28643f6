package usersettings

import (
	"github.com/smallbiznis/pushrelay/internal/usersettings/repository"
	"github.com/smallbiznis/pushrelay/internal/usersettings/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usersettings.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
