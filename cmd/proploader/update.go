package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/CK6170/propeller-loader/internal/app"
	"github.com/CK6170/propeller-loader/serial"
	"github.com/CK6170/propeller-loader/shell"
	"github.com/CK6170/propeller-loader/ui"
	"github.com/CK6170/propeller-loader/update"
)

var (
	updateFile     string
	updateRAM      bool
	updateFlash    bool
	updateYes      bool
	updateTerminal bool
	updateBaud     int
	updateIndex    int
	updateLocal    bool
	updateNetwork  bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Load firmware into the discovered boards",
	Long: `Load a firmware image (.binary, .bin) or a firmware pack (.json) into every
board whose chip generation matches the firmware.

Boards are searched on local serial ports and, with --network, through
network bridges. Press ESC to stop between boards.`,
	RunE: runUpdate,
}

func init() {
	f := updateCmd.Flags()
	f.StringVarP(&updateFile, "file", "f", "", "firmware image or pack (default: firmware from settings)")
	f.BoolVar(&updateRAM, "ram", false, "load into RAM only")
	f.BoolVar(&updateFlash, "flash", false, "write boot memory")
	f.BoolVarP(&updateYes, "yes", "y", false, "do not ask for confirmation")
	f.BoolVarP(&updateTerminal, "terminal", "t", false, "show serial output after a single local upload")
	f.IntVar(&updateBaud, "baud", 115200, "terminal baud rate")
	f.IntVar(&updateIndex, "index", 0, "firmware pack entry to load")
	f.BoolVar(&updateLocal, "local", true, "probe local serial ports")
	f.BoolVar(&updateNetwork, "network", false, "search for network bridges")
	updateCmd.MarkFlagsMutuallyExclusive("ram", "flash")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := updateFile
	if path == "" {
		path = cfg.Firmware
	}
	if path == "" {
		return errors.New("no firmware: use --file or set firmware in the settings")
	}
	writeFlash := cfg.WriteFlash()
	switch {
	case updateRAM:
		writeFlash = false
	case updateFlash:
		writeFlash = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	o := app.Options{Sink: ui.NewConsoleSink(os.Stdout)}
	if !updateYes {
		o.Confirm = func(n int) bool {
			ui.DrainKeys()
			if !ui.Confirm(os.Stdout, n) {
				return false
			}
			go watchEsc(ctx, cancel)
			return true
		}
	}
	a, err := newApp(cfg, o)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.LoadFirmware(ctx, path, false); err != nil {
		return err
	}
	if updateIndex != 0 {
		if err := a.Loader.SelectFirmware(ctx, updateIndex); err != nil {
			return fmt.Errorf("select firmware %d: %w", updateIndex, err)
		}
	}
	// Flags override the pack only when given.
	var opts shell.Options
	if cmd.Flags().Changed("local") {
		opts.EnableLocal = &updateLocal
	}
	if cmd.Flags().Changed("network") {
		opts.EnableNetwork = &updateNetwork
	}
	if err := a.Loader.SetOptions(ctx, opts); err != nil {
		return err
	}

	sum, err := a.Loader.Update(ctx, writeFlash)
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d device(s) failed", sum.Failed, sum.Targets)
	}

	if updateTerminal && !sum.Cancelled {
		return terminalAfter(ctx, sum)
	}
	return nil
}

// terminalAfter monitors the board just updated when it is the only one and
// sits on a local serial port.
func terminalAfter(ctx context.Context, sum update.Summary) error {
	if len(sum.Results) != 1 || sum.Results[0].Device.SerialPort == "" || !sum.Results[0].OK() {
		ui.Warningf(os.Stdout, "Terminal needs exactly one updated local device.\n")
		return nil
	}
	port := sum.Results[0].Device.SerialPort
	ui.Greenf(os.Stdout, "Terminal on %s at %d baud. Press ESC or Ctrl-C to exit.\n", port, updateBaud)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchEsc(ctx, cancel)
	return serial.Monitor(ctx, port, updateBaud, os.Stdout)
}
