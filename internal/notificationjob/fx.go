package notificationjob

import (
	"github.com/smallbiznis/pushrelay/internal/notificationjob/repository"
	"github.com/smallbiznis/pushrelay/internal/notificationjob/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notificationjob.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
