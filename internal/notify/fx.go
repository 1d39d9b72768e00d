package notify

import (
	"context"

	"github.com/smallbiznis/billmirror/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notify",
	fx.Provide(NewHub),
	fx.Provide(func(h *Hub) Publisher { return h }),
	fx.Invoke(registerAMQPBridge),
)

func registerAMQPBridge(lc fx.Lifecycle, cfg config.Config, hub *Hub, log *zap.Logger) {
	if !cfg.AMQP.Enabled() {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			bridge, err := NewAMQPBridge(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
			if err != nil {
				log.Warn("amqp notification bridge unavailable", zap.Error(err))
				return nil
			}
			hub.SubscribeAll(bridge.Handle)
			lc.Append(fx.Hook{OnStop: func(context.Context) error { return bridge.Close() }})
			return nil
		},
	})
}
