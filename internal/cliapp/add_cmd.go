package cliapp

import (
	"fmt"

	"github.com/rudransh-shrivastava/scrapyard/internal/catalog"
	"github.com/spf13/cobra"
)

var (
	addName        string
	addDescription string
	addURL         string
	addThumbnail   string
	addContentHash string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "add a new owned site to the catalog",
	Long:  `add creates a new catalog row owned by this node. Use put-file to attach site content afterward.`,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEngine()
		if err != nil {
			log.WithError(err).Fatal("failed to open catalog")
			return
		}

		if addContentHash != "" {
			existing, err := e.FindMineByHash(addContentHash)
			if err != nil {
				log.WithError(err).Fatal("failed to check for existing upload")
				return
			}
			if existing != nil {
				fmt.Println(existing.ID)
				return
			}
		}

		site, err := e.Add(catalog.Fields{
			Name:        addName,
			Description: addDescription,
			URL:         addURL,
			Thumbnail:   addThumbnail,
			ContentHash: addContentHash,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to add site")
			return
		}
		fmt.Println(site.ID)
	},
}

func init() {
	addCmd.Flags().StringVar(&addName, "name", "", "site display name")
	addCmd.Flags().StringVar(&addDescription, "description", "", "site description")
	addCmd.Flags().StringVar(&addURL, "url", "", "site source URL")
	addCmd.Flags().StringVar(&addThumbnail, "thumbnail", "", "thumbnail URL or data reference")
	addCmd.Flags().StringVar(&addContentHash, "content-hash", "", "fingerprint of the original upload, for dedup")
}
