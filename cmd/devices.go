// Package cmd provides the cobra subcommands of the vehiclecam daemon.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openvtx/vehiclecam/internal/logging"
	"github.com/openvtx/vehiclecam/pkg/linuxav/v4l2"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 capture devices",
		Long:  `Enumerates video capture nodes under /sys/class/video4linux and prints their driver details.`,
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})

			devices, err := v4l2.FindDevices()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error finding devices: %v\n", err)
				os.Exit(1)
			}

			if len(devices) == 0 {
				fmt.Println("No V4L2 capture devices found.")
				return
			}

			fmt.Printf("Found %d V4L2 capture devices:\n", len(devices))
			for i, dev := range devices {
				fmt.Printf("%d. Device Path: %s\n", i+1, dev.DevicePath)
				fmt.Printf("   Device Name: %s\n", dev.DeviceName)
				fmt.Printf("   Driver:      %s\n", dev.Driver)
				fmt.Printf("   Bus:         %s\n", dev.BusInfo)
				fmt.Println()
			}
		},
	}
}
