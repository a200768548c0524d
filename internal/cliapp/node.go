package cliapp

import (
	"github.com/rudransh-shrivastava/scrapyard/internal/blobstore"
	"github.com/rudransh-shrivastava/scrapyard/internal/catalog"
	"github.com/rudransh-shrivastava/scrapyard/internal/config"
)

// openEngine opens the catalog store using the persistent --db flag.
func openEngine() (*catalog.Engine, error) {
	cfg := config.Config{
		DBName:       flagDBName,
		SignalingURL: flagSignalingURL,
		Token:        flagToken,
		ICEServers:   flagICEServers,
	}
	return catalog.New(log, cfg)
}

// openBlobs opens the local content store using the persistent --blobs flag.
func openBlobs() (*blobstore.Store, error) {
	return blobstore.Open(flagBlobPath)
}
