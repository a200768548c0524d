package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"
)

var adoptSiteID string

var adoptCmd = &cobra.Command{
	Use:   "adopt",
	Short: "take ownership of a foreign site's metadata and local blobs",
	Long:  `adopt copies a foreign catalog row's metadata into a new row owned by this node and duplicates its cached blobs under the new id, per the adoption identity: the original row and its blobs are left untouched.`,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEngine()
		if err != nil {
			log.WithError(err).Fatal("failed to open catalog")
			return
		}
		blobs, err := openBlobs()
		if err != nil {
			log.WithError(err).Fatal("failed to open blob store")
			return
		}
		defer blobs.Close()

		adopted, originalID, err := e.Adopt(adoptSiteID)
		if err != nil {
			log.WithError(err).Fatal("failed to adopt site")
			return
		}
		if err := blobs.CopySite(originalID, adopted.ID); err != nil {
			log.WithError(err).Fatal("failed to copy site blobs")
			return
		}
		fmt.Println(adopted.ID)
	},
}

func init() {
	adoptCmd.Flags().StringVar(&adoptSiteID, "site", "", "foreign site id to adopt")
	_ = adoptCmd.MarkFlagRequired("site")
}
