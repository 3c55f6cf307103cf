// Command browser-agent attaches to a Chromium page and reports its network
// activity and cookies.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "browser-agent",
		Short: "Browser session, cookie and network event agent",
		Long: `browser-agent attaches to the DevTools endpoint of a running Chromium page.

Settings are read from BROWSER_AGENT_* environment variables and can be
overridden with flags.`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newCookiesCmd())

	return root
}
