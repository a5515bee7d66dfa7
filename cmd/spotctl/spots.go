package main

import (
	"fmt"
	"io"

	"backend-skatespots/internal/meetup"
	"backend-skatespots/internal/spot"
	"backend-skatespots/internal/stream"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert the legacy points:all document into per-entity keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rdb, err := redisClient(cmd)
		if err != nil {
			return err
		}
		defer rdb.Close()

		svc := spot.NewService(rdb, stream.NewHub(nil))
		res, err := svc.Migrate(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "migrate")
		}
		printResult(cmd.OutOrStdout(), res)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [url]",
	Short: "Import legacy points from a JSON export",
	Long:  "Fetches a JSON array of legacy points and stores the ones not present yet. The URL defaults to SPOT_IMPORT_URL.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := cfg.SpotImportURL
		if len(args) == 1 {
			url = args[0]
		}
		if url == "" {
			return eris.New("no import url given and SPOT_IMPORT_URL is empty")
		}

		rdb, err := redisClient(cmd)
		if err != nil {
			return err
		}
		defer rdb.Close()

		svc := spot.NewService(rdb, stream.NewHub(nil))
		res, err := svc.Import(cmd.Context(), url, cfg.SpotImportTimeout)
		if err != nil {
			return eris.Wrap(err, "import")
		}
		printResult(cmd.OutOrStdout(), res)
		return nil
	},
}

var purgeMeetupsCmd = &cobra.Command{
	Use:   "purge-meetups",
	Short: "Delete meetups that ended more than a day ago",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rdb, err := redisClient(cmd)
		if err != nil {
			return err
		}
		defer rdb.Close()

		hub := stream.NewHub(nil)
		spots := spot.NewService(rdb, hub)
		svc := meetup.NewService(rdb, spots, hub, meetup.Options{MaxEntries: cfg.CacheMaxEntries})
		n, err := svc.PurgeExpired(cmd.Context())
		svc.Wait()
		if err != nil {
			return eris.Wrap(err, "purge meetups")
		}
		zap.L().Info("purged expired meetups", zap.Int("count", n))
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired meetups\n", n)
		return nil
	},
}

func printResult(w io.Writer, res spot.MigrationResult) {
	fmt.Fprintf(w, "points:    %d\n", res.Points)
	fmt.Fprintf(w, "skipped:   %d\n", res.Skipped)
	fmt.Fprintf(w, "invalid:   %d\n", res.Invalid)
	fmt.Fprintf(w, "comments:  %d\n", res.Comments)
	fmt.Fprintf(w, "votes:     %d\n", res.Votes)
	fmt.Fprintf(w, "reports:   %d\n", res.Reports)
	fmt.Fprintf(w, "proposals: %d\n", res.Proposals)
}
