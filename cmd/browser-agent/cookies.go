package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grafana/xk6-browser-agent/storage"
)

var errInvalidCookieFile = errors.New("invalid cookie files")

func newCookiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Work with cookie files",
	}
	cmd.AddCommand(newCookiesCheckCmd())

	return cmd
}

func newCookiesCheckCmd() *cobra.Command {
	var (
		printAll    bool
		sessionOnly bool
	)
	cmd := &cobra.Command{
		Use:   "check FILE...",
		Short: "Validate cookie files, one cookie string per line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cf := storage.NewCookieFile()

			var failed int
			for _, path := range args {
				var n int
				var err error
				for c, lerr := range cf.Load(path) {
					if lerr != nil {
						err = lerr
						break
					}
					n++
					if printAll && (!sessionOnly || c.NamedAsSession()) {
						fmt.Fprintln(out, c)
					}
				}
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %v\n", err)
					continue
				}
				fmt.Fprintf(out, "ok   %s: %d cookies\n", path, n)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d: %w", failed, len(args), errInvalidCookieFile)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printAll, "print", false, "print every cookie in canonical form")
	cmd.Flags().BoolVar(&sessionOnly, "session", false, "with --print, only print session cookies")

	return cmd
}
