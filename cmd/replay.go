package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"firestige.xyz/argus/internal/capture"
	"firestige.xyz/argus/internal/pipeline"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.pcap>",
	Short: "Decode camera traffic from a pcap capture file",
	Long: `Read a pcap file, decode every Baichuan message in it and print a
per-message-type summary when the file is exhausted.

Examples:
  argus replay capture.pcap                 # Decode with the default console sink
  argus replay capture.pcap -c argus.yml    # Decode into the sinks from argus.yml
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		source := capture.NewFileSource(args[0], cfg.Capture.BPF)
		stats, err := runCapture("replay:"+args[0], cfg, source)
		if err != nil {
			return err
		}
		printSummary(stats)
		return nil
	},
}

// printSummary renders the per-type message counts collected during the
// replay, most frequent first.
func printSummary(stats pipeline.Stats) {
	fmt.Printf("\n%d packets, %d messages (%d tcp, %d udp), %d discovery, %d ack\n\n",
		stats.Packets, stats.Messages(), stats.TCPMessages, stats.UDPMessages,
		stats.Discoveries, stats.Acks)

	counts := stats.TypeCounts()
	if len(counts) == 0 {
		return
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Type", "Name", "Count"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, tc := range counts {
		tw.Append([]string{
			fmt.Sprintf("%d", tc.Type),
			tc.Name,
			fmt.Sprintf("%d", tc.Count),
		})
	}
	tw.Render()
}
