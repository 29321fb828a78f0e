package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/CK6170/propeller-loader/internal/app"
	"github.com/CK6170/propeller-loader/models"
)

var (
	discoverLocal   bool
	discoverNetwork bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List Propeller boards on serial ports and network bridges",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("local") {
			cfg.Discovery.Local = discoverLocal
		}
		if cmd.Flags().Changed("network") {
			cfg.Discovery.Network = discoverNetwork
		}
		a, err := newApp(cfg, app.Options{NoHistory: true})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		devices, err := a.Loader.Discover(ctx)
		if err != nil {
			return err
		}
		printDevices(os.Stdout, devices)
		return nil
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverLocal, "local", true, "probe local serial ports")
	discoverCmd.Flags().BoolVar(&discoverNetwork, "network", false, "search for network bridges")
	rootCmd.AddCommand(discoverCmd)
}

func printDevices(w io.Writer, devices []models.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return
	}
	for _, d := range devices {
		line := fmt.Sprintf("%-16s %-22s %s", d.PortDescription(), d.Name, versionName(d.Version))
		if d.MAC != "" {
			line += "  " + d.MAC
		}
		fmt.Fprintln(w, line)
	}
}

func versionName(v int) string {
	switch v {
	case models.VersionP1:
		return "P1"
	case models.VersionP2:
		return "P2"
	}
	return "unknown"
}
