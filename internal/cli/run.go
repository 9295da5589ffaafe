package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunCmd(configPath *string) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Produce and publish the report once",
		Long: "Builds the report covering the day before --date (UTC), uploads it and\n" +
			"posts the link. Without --date the processing date is today.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			procDate, err := parseProcDate(date, time.Now())
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig(*configPath, true)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(ctx); err != nil {
					logger.Warn("shutdown", "error", err)
				}
			}()

			res, err := a.job.Run(ctx, procDate)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.URL)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Processing date (YYYY-MM-DD); the report covers the day before")
	return cmd
}

// parseProcDate parses a YYYY-MM-DD processing date, defaulting to now.
func parseProcDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.UTC(), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}
