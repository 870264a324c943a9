package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/atelier-nova/agency-platform/internal/client/safefetch"
	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

func projectsCmd(rt func() *runtime) *cobra.Command {
	var all bool
	var limit int
	var watch time.Duration
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List your projects (--all lists every project, admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := rt()
			if _, err := r.requireUser(cmd.Context()); err != nil {
				return err
			}
			fetcher := safefetch.New(func(ctx context.Context) ([]*domain.Project, error) {
				return r.api.ListProjects(ctx, all, limit)
			}, r.deps, r.fetchOptions(fmt.Sprintf("projects:all=%t:limit=%d", all, limit)))

			projects, err := fetcher.Load(cmd.Context())
			if err != nil {
				return projectsError(err)
			}
			printProjects(cmd, projects)
			if watch <= 0 {
				return nil
			}

			// A refresh made by any other call unblocks this fetcher.
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			fetcher.Watch(ctx, r.events)

			ticker := time.NewTicker(watch)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
				projects, err := fetcher.Load(ctx)
				switch {
				case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrFetchInFlight):
					continue
				case errors.Is(err, domain.ErrRetryCeiling):
					return err
				case err != nil:
					fmt.Fprintln(cmd.ErrOrStderr(), "refresh failed:", projectsError(err))
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout())
				printProjects(cmd, projects)
			}
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "List every project")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum results with --all")
	cmd.Flags().DurationVarP(&watch, "watch", "w", 0, "Reload the list at this interval until interrupted")
	cmd.AddCommand(setStatusCmd(rt))
	return cmd
}

func projectsError(err error) error {
	if errors.Is(err, domain.ErrForbidden) {
		return errors.New("listing every project requires the admin role")
	}
	return err
}

func setStatusCmd(rt func() *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status [project-id] [status]",
		Short: "Move a project to another status (admin only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := rt()
			if _, err := r.requireUser(cmd.Context()); err != nil {
				return err
			}
			to := domain.ProjectStatus(args[1])
			if !to.Valid() {
				return fmt.Errorf("unknown status %q", args[1])
			}
			fetcher := safefetch.New(func(ctx context.Context) (*domain.Project, error) {
				return r.api.UpdateProjectStatus(ctx, args[0], to)
			}, r.deps, r.fetchOptions("set-status:"+args[0]))

			project, err := fetcher.Refetch(cmd.Context())
			if err != nil {
				return err
			}
			printProjects(cmd, []*domain.Project{project})
			return nil
		},
	}
}

func checkoutCmd(rt func() *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Buy a service",
	}

	var offer domain.ServiceOffer
	start := &cobra.Command{
		Use:   "start",
		Short: "Open a hosted checkout and print the payment URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := rt()
			user, err := r.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			redirect, err := r.flow.Start(cmd.Context(), offer, user.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Open this URL to pay:")
			fmt.Fprintln(cmd.OutOrStdout(), redirect)
			return nil
		},
	}
	start.Flags().StringVar(&offer.ServiceID, "service-id", "", "Service id")
	start.Flags().StringVar(&offer.Title, "title", "", "Service title")
	start.Flags().Int64Var(&offer.Price, "price", 0, "Price in major currency units")
	_ = start.MarkFlagRequired("service-id")
	_ = start.MarkFlagRequired("title")
	_ = start.MarkFlagRequired("price")

	complete := &cobra.Command{
		Use:   "complete [success-url]",
		Short: "Record the project of a paid checkout from its success URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := rt()
			if _, err := r.requireUser(cmd.Context()); err != nil {
				return err
			}
			outcome, err := r.flow.Complete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, outcome.Title)
			if outcome.Warning != "" {
				fmt.Fprintln(out, outcome.Warning)
				return nil
			}
			if outcome.AlreadyRecorded {
				fmt.Fprintln(out, "Project already recorded:")
			} else {
				fmt.Fprintln(out, "Project created:")
			}
			printProjects(cmd, []*domain.Project{outcome.Project})
			return nil
		},
	}

	cmd.AddCommand(start, complete)
	return cmd
}

func invoicesCmd(rt func() *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "invoices [session-id...]",
		Short: "List the invoices of past checkout sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := rt()
			user, err := r.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			invoices, err := r.flow.Invoices(cmd.Context(), user.ID, args)
			if err != nil {
				return err
			}
			if len(invoices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No invoices")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NUMBER\tAMOUNT\tSTATUS\tDATE\tURL")
			for _, inv := range invoices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					inv.Number, formatAmount(inv.AmountPaid, inv.Currency), inv.Status,
					inv.CreatedAt.Format("2006-01-02"), inv.HostedURL)
			}
			return w.Flush()
		},
	}
}

func printProjects(cmd *cobra.Command, projects []*domain.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No projects")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tPRICE\tSTATUS\tCREATED")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", p.ID, p.Title, p.Price, p.Status, p.CreatedAt.Format("2006-01-02"))
	}
	_ = w.Flush()
}

// formatAmount renders an amount in minor units.
func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, strings.ToUpper(currency))
}
