// Package cliapp implements the scrapyard CLI: a thin cobra wrapper over
// the Catalog Engine, Local Content Store, and File-Transfer Protocol, all
// constructed fresh for each invocation and sharing one process (spec's
// module identity: no daemon/IPC split is specified for this core).
//
// Grounded on the teacher's client/cmd and internal/client/cmd split: one
// root command holding persistent flags, one file per subcommand, each
// constructing its own collaborators and exiting when the command
// completes.
package cliapp

import (
	"os"

	"github.com/rudransh-shrivastava/scrapyard/internal/logx"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagDBName       string
	flagBlobPath     string
	flagSignalingURL string
	flagToken        string
	flagICEServers   []string
	flagDebug        bool

	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "scrapyard",
	Short: "scrapyard is a peer-to-peer catalog of static web bundles",
	Long:  `scrapyard replicates a catalog of site metadata across peers and transfers site files on request over the same peer connections.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = logx.New(flagDebug)
	},
}

// Execute runs the CLI, exiting the process on error the way the teacher's
// client/cmd.Execute does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBName, "db", "scrap_yard_v1", "catalog database name")
	rootCmd.PersistentFlags().StringVar(&flagBlobPath, "blobs", "scrap_yard_blobs.db", "local content store path")
	rootCmd.PersistentFlags().StringVar(&flagSignalingURL, "signaling-url", "", "signaling server URL (wss://host/path)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "room token")
	rootCmd.PersistentFlags().StringSliceVar(&flagICEServers, "ice-server", nil, "ICE server URL (repeatable); defaults to public STUN")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(putFileCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(adoptCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
}
