package stations

import (
	"github.com/edgeflare/stations/pkg/ksql"
	"github.com/spf13/cobra"
)

var ksqlCmd = &cobra.Command{
	Use:   "ksql",
	Short: "Create the turnstile summary table in ksqlDB",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ksql.NewClient(cfg.KSQL.URL, logger.Named("ksql")).Setup(cmd.Context(), ksql.TurnstileSummary)
	},
}
