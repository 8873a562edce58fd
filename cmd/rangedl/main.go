// Command rangedl is a CLI front end for the download engine: it fetches
// one URL into a destination file using concurrent ranged GETs, resuming
// from a segment store across restarts, or serves a long-running lifecycle
// loop reading requests from stdin.
package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"rangedl/pkg/coordinator"
	"rangedl/pkg/lifecycle"
	"rangedl/pkg/logging"
	"rangedl/pkg/request"
	"rangedl/pkg/store"
	"rangedl/pkg/store/sqlite"
	"rangedl/pkg/transport"
)

var log = logrus.New()

func main() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("rangedl failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var storePath string

	root := &cobra.Command{
		Use:   "rangedl",
		Short: "Parallel, resumable HTTP(S) file downloader",
	}
	root.PersistentFlags().StringVar(&storePath, "store", "rangedl.db", "path to the segment store database")

	root.AddCommand(newGetCmd(&storePath))
	root.AddCommand(newServeCmd(&storePath))
	return root
}

func newGetCmd(storePath *string) *cobra.Command {
	var workers int64

	c := &cobra.Command{
		Use:   "get URL DESTINATION",
		Short: "Download one URL into DESTINATION, resuming if a matching segment record exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			st, err := openStore(*storePath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			entry := log.WithField("component", "cli")
			coord := coordinator.New(transport.New(nil), st, entry)
			if workers > 0 {
				coord.Workers = workers
			}

			return coord.Resume(ctx, args[0], args[1])
		},
	}
	c.Flags().Int64Var(&workers, "workers", 0, "number of concurrent range workers (default: logical CPU count)")
	return c
}

func newServeCmd(storePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the lifecycle loop, reading \"URL DESTINATION\" request lines from stdin until EOF or a stop signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			st, err := openStore(*storePath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			entry := log.WithField("component", "cli")
			coord := coordinator.New(transport.New(nil), st, entry)
			source := request.NewChannel(16)
			loop := lifecycle.New(source, coord, entry)

			go readRequests(cmd.InOrStdin(), source, entry)

			return loop.Run(ctx)
		},
	}
}

// readRequests submits one Request per "URL DESTINATION" line until r is
// exhausted, then closes source so the lifecycle loop can exit once every
// in-flight transfer completes.
func readRequests(r io.Reader, source *request.Channel, entry logging.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			entry.WithField("line", line).Warn("ignoring malformed request line")
			continue
		}
		source.Submit(request.Request{URL: fields[0], Destination: fields[1]})
	}
	source.Close()
}

func openStore(path string) (store.Store, error) {
	return sqlite.Open(path)
}
