package stations

import (
	"fmt"

	"github.com/edgeflare/stations/pkg/kafka"
	"github.com/spf13/cobra"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Create the stations and table topics if they are missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := kafka.NewClient(&cfg.Kafka, logger)
		provisioner := kafka.NewProvisioner(client.OpenAdmin, logger.Named("provisioner"))

		var failed int
		for _, t := range []kafka.Topic{cfg.StationsTopic(), cfg.TableTopic()} {
			r := provisioner.Ensure(cmd.Context(), t)
			if !r.OK() {
				failed++
				fmt.Printf("%s\t%s\t%v\n", r.Topic, r.Status, r.Err)
				continue
			}
			fmt.Printf("%s\t%s\n", r.Topic, r.Status)
		}
		if failed > 0 {
			return fmt.Errorf("%d topic(s) could not be provisioned", failed)
		}
		return nil
	},
}
