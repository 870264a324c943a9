package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

const passwordEnv = "AGENCY_PASSWORD"

var lookupEnv = os.Getenv

func loginCmd(rt func() *runtime) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with e-mail and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			r := rt()
			if err := r.auth.SignIn(cmd.Context(), email, password); err != nil {
				if errors.Is(err, domain.ErrInvalidCredentials) {
					return errors.New("invalid e-mail or password")
				}
				return err
			}
			if user := r.auth.Snapshot().User; user != nil {
				email = user.Email
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account e-mail")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func signupCmd(rt func() *runtime) *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			var metadata map[string]any
			if name != "" {
				metadata = map[string]any{"full_name": name}
			}
			pending, err := rt().auth.SignUp(cmd.Context(), email, password, metadata)
			if err != nil {
				return err
			}
			if pending {
				fmt.Fprintln(cmd.OutOrStdout(), "Check your inbox to confirm the e-mail address, then run `agencyctl login`.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account created, signed in as %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account e-mail")
	cmd.Flags().StringVar(&name, "name", "", "Full name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd(rt func() *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt().auth.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func resetPasswordCmd(rt func() *runtime) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Send a password recovery e-mail",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt().auth.ResetPassword(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovery e-mail sent to %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account e-mail")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func whoamiCmd(rt func() *runtime) *cobra.Command {
	var cont bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the session state",
		Long: `Reconcile the stored session with the identity provider and print the result.
When the session cannot be confirmed in time the state is "degraded" and the
recovery options are listed; --continue keeps working with the cached session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := rt()
			snap := r.resolve(cmd.Context())
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "State:    %s\n", snap.State)
			if snap.User != nil {
				fmt.Fprintf(out, "User:     %s (%s)\n", snap.User.Email, snap.User.ID)
				fmt.Fprintf(out, "Admin:    %t\n", snap.IsAdmin)
			}
			if snap.Reason != domain.ReasonNone {
				fmt.Fprintf(out, "Reason:   %s\n", snap.Reason)
			}
			if snap.LastError != nil {
				fmt.Fprintf(out, "Error:    %v\n", snap.LastError)
			}
			if len(snap.Recovery) > 0 {
				actions := make([]string, 0, len(snap.Recovery))
				for _, a := range snap.Recovery {
					actions = append(actions, string(a))
				}
				fmt.Fprintf(out, "Recovery: %s\n", strings.Join(actions, ", "))
			}

			if cont && snap.State == domain.StateDegraded {
				path, err := r.auth.Continue(cmd.Context())
				if err != nil {
					return err
				}
				if path != "" {
					fmt.Fprintln(out, "No stored session; run `agencyctl login`.")
					return nil
				}
				fmt.Fprintln(out, "Continuing with the cached session.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cont, "continue", false, "Continue with the cached session when degraded")
	return cmd
}

// readPassword takes the password from the environment or the first line of
// stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	if p := lookupEnv(passwordEnv); p != "" {
		return p, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
