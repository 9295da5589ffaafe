package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aburke/highgarden/internal/auditlog"
	"github.com/aburke/highgarden/internal/awsclient"
	"github.com/aburke/highgarden/internal/config"
	"github.com/aburke/highgarden/internal/logsource"
	"github.com/aburke/highgarden/internal/reference"
	"github.com/aburke/highgarden/internal/report"
	"github.com/aburke/highgarden/internal/secrets"
)

func newParseCmd(configPath *string) *cobra.Command {
	var (
		useDB    bool
		encoding string
	)

	cmd := &cobra.Command{
		Use:   "parse <file>...",
		Short: "Print the report for local log files",
		Long: "Reads plain or gzip-compressed admin log files and writes the report CSV to\n" +
			"stdout. Ids resolve to empty values unless --reference-db is set.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath, false)
			if err != nil {
				return err
			}
			if encoding == "" {
				encoding = cfg.CSVEncoding
			}
			enc, err := report.ParseEncoding(encoding)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var lookup auditlog.Lookup = auditlog.NoLookup{}
			if useDB {
				source, closeDB, err := openReferenceSource(ctx, cfg)
				if err != nil {
					return err
				}
				defer closeDB()
				lookup = reference.NewResolver(source, reference.ResolverConfig{
					BatchSize: cfg.ReferenceBatchSize,
					Logger:    logger,
				})
			}

			sc, err := logsource.NewFileSource(args...).Open(ctx, time.Time{}, time.Time{})
			if err != nil {
				return err
			}
			defer sc.Close()

			rep, err := report.NewAssembler(lookup, report.Options{Encoding: enc, Logger: logger}).Assemble(ctx, sc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if _, err := out.Write(rep.Body); err != nil {
				return err
			}
			if enc == report.EncodingLegacy {
				fmt.Fprintln(out)
			}
			logger.Info("parsed log files",
				"files", len(args),
				"lines_scanned", rep.LinesScanned,
				"lines_recognized", rep.LinesRecognized,
				"rows", rep.Rows,
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&useDB, "reference-db", false, "Resolve company and user ids against the reference database")
	cmd.Flags().StringVar(&encoding, "encoding", "", "CSV encoding: legacy or rfc4180 (default from config)")
	return cmd
}

// openReferenceSource connects to the reference database without building
// the rest of the application.
func openReferenceSource(ctx context.Context, cfg *config.Config) (reference.Source, func() error, error) {
	var sm *secrets.Manager
	if cfg.DatabaseURL == "" {
		clients, err := awsclient.New(ctx, awsConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		sm = secrets.NewManager(clients.Secrets)
	}
	dsn, err := databaseURL(ctx, cfg, sm)
	if err != nil {
		return nil, nil, err
	}
	db, err := reference.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return reference.NewPostgresSource(db, cfg.PipelinesSchema), db.Close, nil
}
