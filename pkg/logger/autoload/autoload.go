package autoload

import (
	configx "github.com/shopez/ez-agent/pkg/config"
	logx "github.com/shopez/ez-agent/pkg/logger"
)

func init() {
	cfg := configx.MustNew[logx.Config]("LOG")
	logx.Init(*cfg)
}
