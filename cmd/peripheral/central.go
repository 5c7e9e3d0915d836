package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/user/peripheral-blue/wire"
	"github.com/user/peripheral-blue/wire/gatt"
)

var centralCmd = &cobra.Command{
	Use:   "central",
	Short: "Act as a central against a served peripheral",
	Long: `Connects to a peripheral started with "peripheral serve".

Examples:
  peripheral central scan
  peripheral central read D9D9D9FB-8C28-4C5E-94E9-58C23B7C69E2
  peripheral central write D9D9D9FB-8C28-4C5E-94E9-58C23B7C69E2 "name=Ada"
  peripheral central write 2a39 01ff --hex
  peripheral central subscribe D9D9D9FB-8C28-4C5E-94E9-58C23B7C69E2 --count 3`,
}

var (
	centralName    string
	centralID      string
	centralTimeout time.Duration
	centralOffset  int
	centralHex     bool
	centralCount   int
	centralCCCD    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Show what the peripheral is advertising",
	Args:  cobra.NoArgs,
	RunE:  runScan,
}

var readCmd = &cobra.Command{
	Use:   "read <characteristic-uuid>",
	Short: "Read a characteristic value",
	Args:  cobra.ExactArgs(1),
	RunE:  runCentralRead,
}

var writeCmd = &cobra.Command{
	Use:   "write <characteristic-uuid> <value>",
	Short: "Write a characteristic value",
	Args:  cobra.ExactArgs(2),
	RunE:  runCentralWrite,
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <characteristic-uuid>",
	Short: "Print notifications until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runCentralSubscribe,
}

func init() {
	centralCmd.PersistentFlags().StringVar(&centralName, "name", "", "Peripheral name (default: name from config)")
	centralCmd.PersistentFlags().StringVar(&centralID, "id", "", "Central id (default: random uuid)")
	centralCmd.PersistentFlags().DurationVar(&centralTimeout, "timeout", 5*time.Second, "Connect and request timeout")

	readCmd.Flags().IntVar(&centralOffset, "offset", 0, "Read offset")
	readCmd.Flags().BoolVar(&centralHex, "hex", false, "Print the value as hex")

	writeCmd.Flags().IntVar(&centralOffset, "offset", 0, "Write offset")
	writeCmd.Flags().BoolVar(&centralHex, "hex", false, "Value is hex (e.g. 01ff)")

	subscribeCmd.Flags().IntVar(&centralCount, "count", 0, "Exit after this many updates (0: run until interrupted)")
	subscribeCmd.Flags().BoolVar(&centralCCCD, "cccd", false, "Subscribe by writing the CCCD instead of a plain subscribe")
	subscribeCmd.Flags().BoolVar(&centralHex, "hex", false, "Print values as hex")

	centralCmd.AddCommand(scanCmd, readCmd, writeCmd, subscribeCmd)
}

func peripheralName(cmd *cobra.Command) (string, error) {
	if centralName != "" {
		return centralName, nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return cfg.Name, nil
}

func connect(cmd *cobra.Command) (*wire.Central, error) {
	name, err := peripheralName(cmd)
	if err != nil {
		return nil, err
	}
	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(cmd.Context(), centralTimeout)
	defer cancel()
	return wire.Connect(ctx, name, centralID)
}

func formatValue(value []byte) string {
	if centralHex {
		return strings.ToUpper(hex.EncodeToString(value))
	}
	return printable(value)
}

func runScan(cmd *cobra.Command, args []string) error {
	name, err := peripheralName(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	payload, err := wire.Scan(name)
	if err != nil {
		return err
	}
	color.New(color.FgCyan).Printf("%s\n", name)
	fmt.Printf("  local name: %s", payload.LocalName)
	if !payload.NameComplete {
		fmt.Print(" (shortened)")
	}
	fmt.Println()
	for _, id := range payload.ServiceUUIDs {
		fmt.Printf("  service: %s\n", id)
	}
	if !payload.UUIDsComplete {
		fmt.Println("  (service list incomplete)")
	}
	return nil
}

func runCentralRead(cmd *cobra.Command, args []string) error {
	characteristic, err := gatt.ParseUUID(args[0])
	if err != nil {
		return err
	}
	c, err := connect(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), centralTimeout)
	defer cancel()
	value, err := c.Read(ctx, characteristic, centralOffset)
	if err != nil {
		return err
	}
	fmt.Println(formatValue(value))
	return nil
}

func runCentralWrite(cmd *cobra.Command, args []string) error {
	characteristic, err := gatt.ParseUUID(args[0])
	if err != nil {
		return err
	}
	value := []byte(args[1])
	if centralHex {
		value, err = hex.DecodeString(strings.TrimPrefix(args[1], "0x"))
		if err != nil {
			return fmt.Errorf("invalid hex value: %w", err)
		}
	}

	c, err := connect(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), centralTimeout)
	defer cancel()
	if err := c.Write(ctx, characteristic, centralOffset, value); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("wrote %d bytes to %s\n", len(value), characteristic)
	return nil
}

func runCentralSubscribe(cmd *cobra.Command, args []string) error {
	characteristic, err := gatt.ParseUUID(args[0])
	if err != nil {
		return err
	}
	c, err := connect(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if centralCCCD {
		ctx, cancel := context.WithTimeout(cmd.Context(), centralTimeout)
		err = c.WriteCCCD(ctx, characteristic, true, true)
		cancel()
	} else {
		err = c.Subscribe(characteristic)
	}
	if err != nil {
		return err
	}
	color.New(color.FgCyan).Printf("subscribed to %s as %s (Ctrl+C to stop)\n", characteristic, c.ID())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	received := 0
	for {
		select {
		case u, ok := <-c.Updates():
			if !ok {
				return fmt.Errorf("peripheral disconnected")
			}
			kind := "notification"
			if u.Indication {
				kind = "indication"
				if err := c.Confirm(u.Characteristic); err != nil {
					return err
				}
			}
			fmt.Printf("%s %s: %s\n", kind, u.Characteristic, formatValue(u.Value))
			received++
			if centralCount > 0 && received >= centralCount {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}
