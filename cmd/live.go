package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/argus/internal/capture"
	"firestige.xyz/argus/internal/log"
)

var liveDevice string

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Capture and decode camera traffic from a network interface",
	Long: `Capture packets from a network interface through an AF_PACKET ring and
decode Baichuan camera traffic as it flows.

Examples:
  argus live -i eth0                        # Capture from eth0 with default settings
  argus live -i eth0 -c argus.yml           # Capture with sinks and filter from argus.yml
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if liveDevice != "" {
			cfg.Capture.Device = liveDevice
		}
		if cfg.Capture.Device == "" {
			return fmt.Errorf("argus: no capture device; pass --interface or set capture.device")
		}

		source, err := capture.NewLiveSource(capture.LiveOptions{
			Device:    cfg.Capture.Device,
			SnapLen:   cfg.Capture.SnapLen,
			BufferMB:  cfg.Capture.BufferMB,
			TimeoutMs: cfg.Capture.TimeoutMs,
			FanoutID:  cfg.Capture.FanoutID,
			Filter:    cfg.Capture.BPF,
		})
		if err != nil {
			return err
		}

		stats, err := runCapture("live:"+cfg.Capture.Device, cfg, source)
		if err != nil {
			return err
		}
		log.GetLogger().WithFields(map[string]interface{}{
			"packets":  stats.Packets,
			"messages": stats.Messages(),
		}).Info("capture finished")
		return nil
	},
}

func init() {
	liveCmd.Flags().StringVarP(&liveDevice, "interface", "i", "",
		"network interface to capture from (overrides capture.device)")
}
