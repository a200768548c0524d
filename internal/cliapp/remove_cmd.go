package cliapp

import (
	"github.com/spf13/cobra"
)

var removeSiteID string

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "tombstone an owned site",
	Long:  `remove marks a site deleted; the tombstone replicates to peers, it does not erase the local blobstore content.`,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEngine()
		if err != nil {
			log.WithError(err).Fatal("failed to open catalog")
			return
		}
		if err := e.Remove(removeSiteID); err != nil {
			log.WithError(err).Fatal("failed to remove site")
			return
		}
	},
}

func init() {
	removeCmd.Flags().StringVar(&removeSiteID, "site", "", "site id to remove")
	_ = removeCmd.MarkFlagRequired("site")
}
