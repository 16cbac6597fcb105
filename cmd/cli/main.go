package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/electra-analytics/electra/cmd/cli/internal/commands"
	"github.com/electra-analytics/electra/internal/logger"
)

var (
	version = "dev"
	cli     struct {
		Login    commands.LoginCmd    `cmd:"" help:"Sign in to the dashboard backend"`
		Logout   commands.LogoutCmd   `cmd:"" help:"Sign out and forget the stored token"`
		Status   commands.StatusCmd   `cmd:"" help:"Show the current session"`
		KPI      commands.KPICmd      `cmd:"" name:"kpi" help:"Show dashboard KPIs"`
		Products commands.ProductsCmd `cmd:"" help:"List products"`
		Serve    commands.ServeCmd    `cmd:"" help:"Serve the dashboard locally"`
		Debug    bool                 `help:"Enable debug mode."`
		Version  kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("electra"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	logger.Setup(cli.Debug)
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
