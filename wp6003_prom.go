package main

import (
	"context"
	"os"

	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const programName = "wp6003_prom"

var rootCmd = &cobra.Command{
	Use:   programName,
	Short: "Exports WP6003 air quality sensors to Prometheus and MQTT",
	Long: `Listens for WP6003 air quality sensors over Bluetooth LE and exposes their
temperature, TVOC, HCHO and CO2 readings as Prometheus gauges and, optionally,
as Home Assistant sensors over MQTT.`,
	Version:       versionString(),
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.SetVersionTemplate(version.Print(programName) + "\n")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decodeCmd)

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

func versionString() string {
	if version.Version == "" {
		return "dev"
	}
	return version.Version
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
