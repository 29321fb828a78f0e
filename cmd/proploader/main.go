// Command proploader uploads firmware to Propeller P1 and P2 boards attached
// to local serial ports or reachable through network bridges.
package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/CK6170/propeller-loader/internal/app"
	"github.com/CK6170/propeller-loader/internal/config"
	"github.com/CK6170/propeller-loader/ui"
)

var (
	configFlag string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "proploader",
	Short: "Propeller P1/P2 firmware loader",
	Long: `Discover Propeller boards on local serial ports and on the network,
then load a firmware image or a firmware pack into RAM or boot memory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "settings file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "print debug messages")
}

func main() {
	log.SetOutput(ui.NewRedWriter(os.Stderr))
	log.SetFlags(0)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the settings and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if debugFlag {
		cfg.Debug = true
	}
	return cfg, nil
}

// newApp builds the application for a command. Close must be called.
func newApp(cfg *config.Config, o app.Options) (*app.App, error) {
	return app.New(cfg, ui.NewLogger(os.Stderr, cfg.Debug), o)
}

// watchEsc cancels when ESC or Ctrl-C is pressed. The keyboard is in raw
// mode once a prompt opened it, so the interrupt signal is not delivered.
func watchEsc(ctx context.Context, cancel context.CancelFunc) {
	keys := ui.StartKeyEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case k, ok := <-keys:
			if !ok {
				return
			}
			if k == ui.KeyEsc {
				cancel()
				return
			}
		}
	}
}
