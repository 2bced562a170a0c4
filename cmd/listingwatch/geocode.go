package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode <lat> <lon>",
	Short: "Reverse-geocode a coordinate",
	Long:  "Looks up a coordinate with the configured geocoder and prints the resolved address.",
	Args:  cobra.ExactArgs(2),
	RunE:  runGeocode,
}

func init() {
	rootCmd.AddCommand(geocodeCmd)
}

func runGeocode(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("parse latitude %q: %w", args[0], err)
	}
	lon, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("parse longitude %q: %w", args[1], err)
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	addr, err := setupGeocoder(cfg, newHTTPClient(), logger).ReverseGeocode(ctx, lat, lon)
	if err != nil {
		logger.Error("reverse geocode failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%-10s %s\n", "Suburb:", addr.Suburb)
	fmt.Printf("%-10s %s\n", "City:", addr.City)
	fmt.Printf("%-10s %s\n", "Postcode:", addr.Postcode)
	fmt.Printf("%-10s %s\n", "Address:", addr.DisplayName)
	return nil
}
