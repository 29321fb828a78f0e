package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/CK6170/propeller-loader/internal/history"
)

var (
	historyLimit int
	historyBatch string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded uploads",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.HistoryDB == "" {
			return errors.New("history is disabled")
		}
		st, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		var entries []history.Entry
		if historyBatch != "" {
			entries, err = st.Batch(ctx, historyBatch)
		} else {
			entries, err = st.Recent(ctx, historyLimit)
		}
		if err != nil {
			return err
		}
		printHistory(os.Stdout, entries)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of uploads to show")
	historyCmd.Flags().StringVar(&historyBatch, "batch", "", "show the uploads of one update run")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No uploads recorded.")
		return
	}
	for _, e := range entries {
		target := "RAM"
		if e.WriteFlash {
			target = "EEPROM"
		}
		fmt.Fprintf(w, "%s  %-16s %-20s %-6s %-6s %6.2fs  %s",
			e.Started.Local().Format("2006-01-02 15:04:05"), e.Port, e.Device, target, e.Status,
			e.Duration.Seconds(), e.Firmware)
		if e.Error != "" {
			fmt.Fprintf(w, "  (%s)", e.Error)
		}
		fmt.Fprintln(w)
	}
}
