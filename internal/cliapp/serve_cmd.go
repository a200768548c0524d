package cliapp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/scrapyard/internal/catalog"
	"github.com/rudransh-shrivastava/scrapyard/internal/localhttp"
	"github.com/rudransh-shrivastava/scrapyard/internal/transfer"
	"github.com/spf13/cobra"
)

var serveHTTPAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "join the signaling room and serve the local content store over HTTP",
	Long: `serve connects to the configured signaling room, keeps the catalog in
sync with every peer that joins, answers their file-transfer requests out of
the local content store, and serves /local/{siteId}/{rest...} over HTTP for
a browser or other local client to fetch cached site content from.`,
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := e.Connect(ctx, flagSignalingURL, flagToken); err != nil {
			log.WithError(err).Fatal("failed to connect to signaling room")
			return
		}
		defer e.Close()

		transfer.New(log, e.Sessions(), blobs)

		e.OnSync(func(ev catalog.SyncEvent) {
			log.WithFields(map[string]any{"peer": ev.FromPeer, "count": ev.Count}).Info("catalog synced")
		})

		mux := http.NewServeMux()
		mux.Handle("/local/", localhttp.Handler(blobs))

		srv := &http.Server{Addr: serveHTTPAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()

		log.WithField("addr", serveHTTPAddr).Info("serving local content store")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("local HTTP server failed")
			return
		}
		fmt.Println("shut down")
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTPAddr, "addr", "127.0.0.1:8787", "local HTTP listen address")
}
