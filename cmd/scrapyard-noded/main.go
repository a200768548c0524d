// Command scrapyard-noded runs one scrapyard node: it opens the local CRDT
// store and blob store, optionally joins a signaling room, answers peers'
// file-transfer requests, and serves the local HTTP interceptor. It takes
// the same collaborators the scrapyard CLI's serve subcommand does, but as
// a standalone process with its own flag set, per the teacher's cmd/tracker
// convention of one small main per long-running binary.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rudransh-shrivastava/scrapyard/internal/blobstore"
	"github.com/rudransh-shrivastava/scrapyard/internal/catalog"
	"github.com/rudransh-shrivastava/scrapyard/internal/config"
	"github.com/rudransh-shrivastava/scrapyard/internal/localhttp"
	"github.com/rudransh-shrivastava/scrapyard/internal/logx"
	"github.com/rudransh-shrivastava/scrapyard/internal/transfer"
)

func main() {
	dbName := flag.String("db", "scrap_yard_v1", "catalog database name")
	blobPath := flag.String("blobs", "scrap_yard_blobs.db", "local content store path")
	signalingURL := flag.String("signaling-url", "", "signaling server URL (wss://host/path)")
	token := flag.String("token", "", "room token")
	iceServers := flag.String("ice-servers", "", "comma-separated ICE server URLs; defaults to public STUN")
	addr := flag.String("addr", "127.0.0.1:8787", "local HTTP listen address")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := logx.New(*debug)

	var ice []string
	if *iceServers != "" {
		ice = strings.Split(*iceServers, ",")
	}

	e, err := catalog.New(log, config.Config{DBName: *dbName, ICEServers: ice})
	if err != nil {
		log.WithError(err).Fatal("failed to open catalog store")
	}

	blobs, err := blobstore.Open(*blobPath)
	if err != nil {
		log.WithError(err).Fatal("failed to open blob store")
	}
	defer blobs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *signalingURL != "" {
		if err := e.Connect(ctx, *signalingURL, *token); err != nil {
			log.WithError(err).Fatal("failed to connect to signaling room")
		}
		defer e.Close()
		transfer.New(log, e.Sessions(), blobs)
	} else {
		log.Info("no signaling URL configured; serving local content only")
	}

	e.OnSync(func(ev catalog.SyncEvent) {
		log.WithField("peer", ev.FromPeer).WithField("count", ev.Count).Info("catalog synced")
	})

	mux := http.NewServeMux()
	mux.Handle("/local/", localhttp.Handler(blobs))

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.WithField("addr", *addr).Info("scrapyard node serving")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("local HTTP server failed")
	}
}
