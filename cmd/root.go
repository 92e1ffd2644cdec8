// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/argus/internal/config"
	"firestige.xyz/argus/internal/log"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "argus",
	Short: "Argus - Baichuan camera traffic capture and decoder",
	Long: `Argus captures Baichuan IP camera traffic, live from an interface or
replayed from a pcap file, and decodes the proprietary framing the cameras
speak: magic-delimited messages over TCP, fragment-numbered datagrams over
UDP, and the XOR-obfuscated XML bodies inside both. Decoded records go to
configurable sinks (console, kafka, mqtt, sqlite).`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (optional; defaults apply without one)")

	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(typesCmd)
}

// loadConfig reads the configuration and initializes the process logger.
// Every capture command goes through here before touching a packet source.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	log.Init(&cfg.Log)
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signals
		log.GetLogger().WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()
	return ctx, cancel
}
