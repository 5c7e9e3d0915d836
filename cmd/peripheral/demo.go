package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/peripheral-blue/peripheral"
	"github.com/user/peripheral-blue/wire"
	"github.com/user/peripheral-blue/wire/advertising"
	"github.com/user/peripheral-blue/wire/att"
	"github.com/user/peripheral-blue/wire/gatt"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the demonstration scenario on an in-process radio",
	Long: `Starts the configured peripheral on a loopback radio, connects a
simulated central that subscribes and writes user details, then pushes a
new value ("9D9" by default) to every subscriber.`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

var (
	demoUserDetails string
	demoPushValue   string
	demoTimeout     time.Duration
)

func init() {
	demoCmd.Flags().StringVar(&demoUserDetails, "details", "name=Ada;age=36", "User details the central writes")
	demoCmd.Flags().StringVar(&demoPushValue, "push", "9D9", "Value pushed to subscribers")
	demoCmd.Flags().DurationVar(&demoTimeout, "timeout", 5*time.Second, "Scenario timeout")
}

// demoDelegate reports callbacks and wakes the scenario at each milestone.
type demoDelegate struct {
	peripheral.NopDelegate
	advertising chan error
	subscribed  chan struct{}
}

func (d *demoDelegate) DidUpdateState(_ *peripheral.Peripheral, state peripheral.State) {
	color.New(color.FgYellow).Printf("  state → %s\n", state)
}

func (d *demoDelegate) DidStartAdvertising(_ *peripheral.Peripheral, err error) {
	select {
	case d.advertising <- err:
	default:
	}
}

func (d *demoDelegate) DidReceiveWrite(_ *peripheral.Peripheral, central peripheral.Central, _ gatt.UUID, value []byte) {
	fmt.Printf("  peripheral received from %s: %s\n", shortID(central), printable(value))
}

func (d *demoDelegate) CentralDidSubscribe(_ *peripheral.Peripheral, central peripheral.Central, _ gatt.UUID) {
	fmt.Printf("  %s subscribed\n", shortID(central))
	select {
	case d.subscribed <- struct{}{}:
	default:
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	table, err := cfg.Table()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(cmd.Context(), demoTimeout)
	defer cancel()

	target, err := firstNotifiable(table)
	if err != nil {
		return err
	}

	radio := wire.NewLoopback()
	delegate := &demoDelegate{advertising: make(chan error, 1), subscribed: make(chan struct{}, 1)}
	p := peripheral.New(radio, table,
		peripheral.WithName(cfg.Name),
		peripheral.WithBacklog(cfg.Backlog),
		peripheral.WithQueueSize(cfg.QueueSize),
		peripheral.WithDelegate(delegate),
	)
	defer p.Close()

	heading := color.New(color.FgCyan, color.Bold)

	heading.Println("1. Start")
	if err := p.Start(ctx); err != nil {
		return err
	}
	select {
	case err := <-delegate.advertising:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("waiting for advertising: %w", ctx.Err())
	}
	adv, _ := radio.Advertising()
	fmt.Printf("  advertising: %s\n", advertising.Describe(adv.Data))

	central := peripheral.Central(uuid.NewString())
	heading.Printf("2. Central %s subscribes to %s\n", shortID(central), target)
	radio.Subscribe(central, target)
	select {
	case <-delegate.subscribed:
	case <-ctx.Done():
		return fmt.Errorf("waiting for subscription: %w", ctx.Err())
	}

	heading.Println("3. Central writes user details")
	resp, err := radio.Write(ctx, central, target, 0, []byte(demoUserDetails))
	if err != nil {
		return err
	}
	fmt.Printf("  write status: %s\n", att.StatusName(resp.Status))

	resp, err = radio.Read(ctx, central, target, 0)
	if err != nil {
		return err
	}
	fmt.Printf("  read back (%s): %s\n", att.StatusName(resp.Status), printable(resp.Value))

	heading.Printf("4. Peripheral pushes %q\n", demoPushValue)
	result, err := p.Notify(ctx, target, []byte(demoPushValue))
	if err != nil {
		return err
	}
	fmt.Printf("  queued=%d delivered=%d dropped=%d\n", result.Queued, result.Delivered, result.Dropped)
	for _, d := range radio.Drain(central) {
		fmt.Printf("  %s received %s\n", shortID(central), printable(d.Value))
	}

	heading.Println("5. Stop")
	if err := p.Stop(ctx); err != nil {
		return err
	}
	color.New(color.FgGreen).Println("✅ demo complete")
	return nil
}

func firstNotifiable(table *gatt.Table) (gatt.UUID, error) {
	for _, s := range table.Services() {
		for _, c := range s.Characteristics() {
			if c.Properties().CanNotify() || c.Properties().CanIndicate() {
				return c.UUID(), nil
			}
		}
	}
	return gatt.UUID{}, fmt.Errorf("no characteristic supports notify or indicate")
}

func shortID(c peripheral.Central) string {
	s := string(c)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
