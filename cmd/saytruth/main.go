package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "saytruth",
		Short: "Anonymous feedback links and direct messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(NewServeCommand(), NewSweepCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
