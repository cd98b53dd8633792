package main

import (
	"log"

	"github.com/spf13/cobra"
)

func main() {
	var command = &cobra.Command{
		Use:           "soulspotd",
		Short:         "Music metadata aggregation and download daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	command.AddCommand(serveCmd())

	if err := command.Execute(); err != nil {
		log.Fatalf("soulspotd: %v", err)
	}
}
