package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/CK6170/propeller-loader/serial"
	"github.com/CK6170/propeller-loader/ui"
)

var terminalBaud int

var terminalCmd = &cobra.Command{
	Use:   "terminal PORT",
	Short: "Print what a board sends on a serial port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ui.Greenf(os.Stdout, "Terminal on %s at %d baud. Press Ctrl-C to exit.\n", args[0], terminalBaud)
		return serial.Monitor(ctx, args[0], terminalBaud, os.Stdout)
	},
}

func init() {
	terminalCmd.Flags().IntVarP(&terminalBaud, "baud", "b", 115200, "baud rate")
	rootCmd.AddCommand(terminalCmd)
}
