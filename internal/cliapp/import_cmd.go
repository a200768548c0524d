package cliapp

import (
	"context"
	"fmt"
	"time"

	"github.com/rudransh-shrivastava/scrapyard/internal/transfer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	importPeerID string
	importSiteID string
	importWait   time.Duration
)

// peerReadyDeadlineDefault bounds how long import waits for the named peer to join
// the room and open its ledger channel before giving up.
const peerReadyDeadlineDefault = 30 * time.Second

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "fetch a foreign site's files from a specific peer",
	Long: `import connects to the signaling room, waits for the named peer to
come online, and runs the File-Transfer Protocol against it to pull every
file of the given site into the local content store. Run adopt separately
to also take ownership of the catalog row.`,
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

		ctx, cancel := context.WithTimeout(context.Background(), importWait)
		defer cancel()

		if err := e.Connect(ctx, flagSignalingURL, flagToken); err != nil {
			log.WithError(err).Fatal("failed to connect to signaling room")
			return
		}
		defer e.Close()

		proto := transfer.New(log, e.Sessions(), blobs)

		ready := make(chan struct{}, 1)
		e.Sessions().OnPeerReady(func(peerID string) {
			if peerID == importPeerID {
				select {
				case ready <- struct{}{}:
				default:
				}
			}
		})

		select {
		case <-ready:
		case <-ctx.Done():
			log.WithField("peer", importPeerID).Fatal("timed out waiting for peer to come online")
			return
		}

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("importing "+importSiteID),
			progressbar.OptionClearOnFinish(),
		)

		err = proto.ImportSite(context.Background(), importPeerID, importSiteID, func(completed, total int, path string) {
			if bar.GetMax() != total {
				bar.ChangeMax(total)
			}
			_ = bar.Set(completed)
		})
		if err != nil {
			log.WithError(err).Fatal("import failed")
			return
		}
		fmt.Println("import complete:", importSiteID)
	},
}

func init() {
	importCmd.Flags().StringVar(&importPeerID, "peer", "", "peer id to import from")
	importCmd.Flags().StringVar(&importSiteID, "site", "", "site id to import")
	importCmd.Flags().DurationVar(&importWait, "timeout", peerReadyDeadlineDefault, "how long to wait for the peer to come online")
	_ = importCmd.MarkFlagRequired("peer")
	_ = importCmd.MarkFlagRequired("site")
}
