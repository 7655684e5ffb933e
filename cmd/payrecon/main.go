package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrecon/internal/clock"
	"github.com/smallbiznis/payrecon/internal/config"
	"github.com/smallbiznis/payrecon/internal/migration"
	"github.com/smallbiznis/payrecon/internal/observability"
	"github.com/smallbiznis/payrecon/internal/payment"
	"github.com/smallbiznis/payrecon/internal/ratelimit"
	"github.com/smallbiznis/payrecon/internal/server"
	"github.com/smallbiznis/payrecon/internal/settings"
	"github.com/smallbiznis/payrecon/pkg/db"
	"github.com/smallbiznis/payrecon/pkg/redisclient"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redisclient.Module,
		migration.Module,

		settings.Module,
		ratelimit.Module,
		payment.Module,

		server.Module,
	)
	app.Run()
}

// RegisterSnowflake builds the id generator for this node. NODE_ID must be
// unique per replica.
func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
