package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchidx/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var jsonOut, short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Version must work without a readable config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch {
			case jsonOut:
				data, err := version.JSON()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			case short:
				_, err := fmt.Fprintln(out, version.Short())
				return err
			default:
				_, err := fmt.Fprintln(out, version.String())
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "Print the version number only")

	return cmd
}
