package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CK6170/propeller-loader/file"
	"github.com/CK6170/propeller-loader/models"
)

var (
	packOutput       string
	packNetwork      bool
	packNoLocal      bool
	packDescriptions []string
)

var packCmd = &cobra.Command{
	Use:   "pack -o OUT.json IMAGE...",
	Short: "Bundle firmware images into a firmware pack",
	Long: `Write a firmware pack holding the given images in order. The first image is
selected when the pack is loaded.

Descriptions default to the chip generation of each image; pass -d once per
image to override them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if packOutput == "" {
			return errors.New("missing --output")
		}
		if len(packDescriptions) > len(args) {
			return fmt.Errorf("%d descriptions for %d images", len(packDescriptions), len(args))
		}
		pack, err := buildPack(args, packDescriptions)
		if err != nil {
			return err
		}
		pack.EnableLocal = !packNoLocal
		pack.EnableNetwork = packNetwork
		if err := file.SavePack(packOutput, pack); err != nil {
			return err
		}
		fmt.Printf("Wrote %d firmware(s) to %s\n", len(pack.FirmwareList), packOutput)
		return nil
	},
}

func init() {
	f := packCmd.Flags()
	f.StringVarP(&packOutput, "output", "o", "", "pack file to write")
	f.BoolVar(&packNetwork, "network", false, "enable network discovery when the pack is loaded")
	f.BoolVar(&packNoLocal, "no-local", false, "disable serial port discovery when the pack is loaded")
	f.StringArrayVarP(&packDescriptions, "description", "d", nil, "image description, in image order")
	rootCmd.AddCommand(packCmd)
}

func buildPack(paths, descriptions []string) (*models.FirmwarePack, error) {
	pack := models.NewFirmwarePack()
	for i, p := range paths {
		fw, err := file.LoadFirmware(p)
		if err != nil {
			return nil, err
		}
		if i < len(descriptions) && descriptions[i] != "" {
			fw.Description = descriptions[i]
		}
		pack.Add(fw)
	}
	return pack, nil
}
