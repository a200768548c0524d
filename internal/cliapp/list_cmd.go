package cliapp

import (
	"fmt"

	"github.com/rudransh-shrivastava/scrapyard/internal/catalog"
	"github.com/spf13/cobra"
)

var (
	listMine      bool
	listAvailable bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list catalog sites",
	Long:  `list prints the replicated site catalog: all sites by default, or just this node's own or available-for-import sites.`,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEngine()
		if err != nil {
			log.WithError(err).Fatal("failed to open catalog")
			return
		}

		var sites []catalog.Site
		switch {
		case listMine:
			sites, err = e.MySites()
		case listAvailable:
			sites, err = e.AvailableSites()
		default:
			sites, err = e.AllSites()
		}
		if err != nil {
			log.WithError(err).Fatal("failed to list sites")
			return
		}

		for _, s := range sites {
			mine := ""
			if s.OwnerID == e.NodeID() {
				mine = " (mine)"
			}
			fmt.Printf("%s  %-24s  files=%d  size=%d%s\n", s.ID, s.Name, s.FileCount, s.FileSize, mine)
		}
	},
}

func init() {
	listCmd.Flags().BoolVar(&listMine, "mine", false, "only sites owned by this node")
	listCmd.Flags().BoolVar(&listAvailable, "available", false, "only foreign sites with files available to import")
}
