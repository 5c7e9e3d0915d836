package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/user/peripheral-blue/logger"
	"github.com/user/peripheral-blue/peripheral"
	"github.com/user/peripheral-blue/wire"
	"github.com/user/peripheral-blue/wire/gatt"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configured peripheral on a Unix socket until interrupted",
	Long: `Registers the configured service, advertises it and answers centrals
connecting to {data dir}/sockets/peripheral-{name}.sock. The data dir
defaults to ~/.peripheral-blue-data and can be moved with PERIPHERAL_BLUE_DIR.

Examples:
  peripheral serve
  peripheral serve --config heart.yaml --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	table, err := cfg.Table()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	var opts []wire.SocketOption
	if cfg.Socket != "" {
		opts = append(opts, wire.WithSocketPath(cfg.Socket))
	}
	opts = append(opts, wire.WithOutboundQueue(cfg.OutboundQueue))
	radio := wire.NewSocketRadio(cfg.Name, opts...)

	p := peripheral.New(radio, table,
		peripheral.WithName(cfg.Name),
		peripheral.WithBacklog(cfg.Backlog),
		peripheral.WithQueueSize(cfg.QueueSize),
		peripheral.WithDelegate(&consoleDelegate{}),
	)
	defer p.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return err
	}
	path, _ := radio.SocketPath()
	color.New(color.FgCyan).Printf("Serving %q on %s (Ctrl+C to stop)\n", cfg.Name, path)

	<-ctx.Done()
	fmt.Println()
	logger.Info("serve", "shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		logger.Warn("serve", "stop: %v", err)
	}
	return nil
}

// consoleDelegate prints peripheral callbacks for an operator.
type consoleDelegate struct {
	peripheral.NopDelegate
}

func (consoleDelegate) DidUpdateState(_ *peripheral.Peripheral, state peripheral.State) {
	color.New(color.FgYellow).Printf("state: %s\n", state)
}

func (consoleDelegate) DidRegisterService(_ *peripheral.Peripheral, err error) {
	if err != nil {
		color.New(color.FgRed).Printf("service registration failed: %v\n", err)
		return
	}
	color.New(color.FgGreen).Println("service registered")
}

func (consoleDelegate) DidStartAdvertising(_ *peripheral.Peripheral, err error) {
	if err != nil {
		color.New(color.FgRed).Printf("advertising failed: %v\n", err)
		return
	}
	color.New(color.FgGreen).Println("advertising")
}

func (consoleDelegate) DidReceiveWrite(_ *peripheral.Peripheral, central peripheral.Central, characteristic gatt.UUID, value []byte) {
	fmt.Printf("%s wrote %s: %s\n", central, characteristic, printable(value))
}

func (consoleDelegate) CentralDidSubscribe(_ *peripheral.Peripheral, central peripheral.Central, characteristic gatt.UUID) {
	color.New(color.FgCyan).Printf("%s subscribed to %s\n", central, characteristic)
}

func (consoleDelegate) CentralDidUnsubscribe(_ *peripheral.Peripheral, central peripheral.Central, characteristic gatt.UUID) {
	color.New(color.FgCyan).Printf("%s unsubscribed from %s\n", central, characteristic)
}
