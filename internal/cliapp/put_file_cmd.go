package cliapp

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	putFileSiteID string
	putFilePath   string
	putFileLocal  string
)

var putFileCmd = &cobra.Command{
	Use:   "put-file",
	Short: "store a local file into a site's content and refresh its file stats",
	Long:  `put-file reads a local file, stores it under the given site id and path in the local content store, then recomputes the owning site's file count and total size.`,
	Run: func(cmd *cobra.Command, args []string) {
		blobs, err := openBlobs()
		if err != nil {
			log.WithError(err).Fatal("failed to open blob store")
			return
		}
		defer blobs.Close()

		data, err := os.ReadFile(putFileLocal)
		if err != nil {
			log.WithError(err).Fatal("failed to read local file")
			return
		}

		contentType := mime.TypeByExtension(filepath.Ext(putFileLocal))
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}

		if err := blobs.Put(putFileSiteID, putFilePath, data, contentType); err != nil {
			log.WithError(err).Fatal("failed to store file")
			return
		}

		e, err := openEngine()
		if err != nil {
			log.WithError(err).Fatal("failed to open catalog")
			return
		}

		stored, err := blobs.List(putFileSiteID)
		if err != nil {
			log.WithError(err).Fatal("failed to re-list site files")
			return
		}
		var total int64
		for _, b := range stored {
			total += b.ByteLength
		}

		if err := e.UpdateFileStats(putFileSiteID, int64(len(stored)), total); err != nil {
			log.WithError(err).Fatal("failed to update file stats")
			return
		}
	},
}

func init() {
	putFileCmd.Flags().StringVar(&putFileSiteID, "site", "", "site id")
	putFileCmd.Flags().StringVar(&putFilePath, "path", "", "site-relative path to store the file under")
	putFileCmd.Flags().StringVar(&putFileLocal, "file", "", "local file to read")
	_ = putFileCmd.MarkFlagRequired("site")
	_ = putFileCmd.MarkFlagRequired("path")
	_ = putFileCmd.MarkFlagRequired("file")
}
