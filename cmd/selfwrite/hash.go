package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360studio/selfwrite/fingerprint"
)

func hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [file...]",
		Short: "Print content fingerprints",
		Long: `Hash prints the fingerprint selfwrite computes for each file, in the
same form the tracker registers. Use "-" to read from stdin. Handy for
checking why a change did or did not match a registration.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				var (
					content []byte
					err     error
				)
				if path == "-" {
					content, err = io.ReadAll(os.Stdin)
				} else {
					content, err = os.ReadFile(path)
				}
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}

				fp, err := fingerprint.Compute(content)
				if err != nil {
					return fmt.Errorf("fingerprint %s: %w", path, err)
				}
				fmt.Printf("%s  %s\n", fp, path)
			}
			return nil
		},
	}
}
