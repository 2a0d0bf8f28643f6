package agenttask

import (
	"github.com/smallbiznis/pushrelay/internal/agenttask/repository"
	"github.com/smallbiznis/pushrelay/internal/agenttask/service"
	"go.uber.org/fx"
)

var Module = fx.Module("agenttask.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
