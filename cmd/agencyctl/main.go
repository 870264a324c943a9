// Command agencyctl is the command-line client of the agency platform. It
// keeps the signed-in session on disk (or in Redis) and drives checkouts and
// project lookups against the API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var rt *runtime

	rootCmd := &cobra.Command{
		Use:           "agencyctl",
		Short:         "agencyctl - client of the agency platform",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			rt, err = newRuntime(cmd.Context())
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt != nil {
				rt.Close()
			}
		},
	}

	get := func() *runtime { return rt }
	rootCmd.AddCommand(loginCmd(get))
	rootCmd.AddCommand(signupCmd(get))
	rootCmd.AddCommand(logoutCmd(get))
	rootCmd.AddCommand(resetPasswordCmd(get))
	rootCmd.AddCommand(whoamiCmd(get))
	rootCmd.AddCommand(projectsCmd(get))
	rootCmd.AddCommand(checkoutCmd(get))
	rootCmd.AddCommand(invoicesCmd(get))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
