package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(mimeCmd)
}

var mimeCmd = &cobra.Command{
	Use:   "mime <url|path>...",
	Short: "Print the media type of files without downloading them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, loc := range args {
			typ, err := mgr.MimeType(cmd.Context(), loc)
			if err != nil {
				return fmt.Errorf("%s: %w", loc, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", typ, loc)
		}
		return nil
	},
}
