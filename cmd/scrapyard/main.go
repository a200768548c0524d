// Command scrapyard is the CLI entrypoint: catalog operations, local content
// ingestion, and peer import/adopt, plus a serve subcommand that runs the
// node itself. Grounded on the teacher's cmd/tracker/main.go: a thin wrapper
// that hands straight off to the package holding the real logic.
package main

import "github.com/rudransh-shrivastava/scrapyard/internal/cliapp"

func main() {
	cliapp.Execute()
}
