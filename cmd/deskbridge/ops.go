package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"deskbridge/internal/auth"
	"deskbridge/internal/jobs"
	"deskbridge/internal/rbac"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and record the release version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// bootstrap applies pending migrations.
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.settings.SetVersion(cmd.Context(), buildVersion); err != nil {
				return err
			}
			fmt.Printf("Migrations applied; version %s recorded\n", buildVersion)
			return nil
		},
	}
}

// runJob executes one job through the scheduler so the cross-instance lock
// is honoured.
func runJob(ctx context.Context, name string) error {
	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sched, err := rt.scheduler()
	if err != nil {
		return err
	}
	ran, err := sched.Run(ctx, name)
	if err != nil {
		return err
	}
	if !ran {
		fmt.Printf("%s skipped: already running\n", name)
	}
	return nil
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-cache",
		Short: "Re-render every cached issue table now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), jobs.JobRefresh)
		},
	}
}

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete tracker issues filed by accounts that no longer exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), jobs.JobPurge)
		},
	}
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the issue table cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached issue tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			entries, err := rt.service.IssueCache(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No cached issue tables")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROJECT\tSTATUS\tSIZE\tUPDATED")
			for _, entry := range entries {
				status := entry.Status
				if status == "" {
					status = "(default)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					entry.Project,
					status,
					humanize.Bytes(uint64(len(entry.Payload))),
					humanize.Time(entry.UpdatedAt),
				)
			}
			return tw.Flush()
		},
	})
	return cmd
}

func newSetAPIKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-api-key",
		Short: "Store the tracker API key, read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && strings.TrimSpace(line) == "" {
				return fmt.Errorf("read api key: %w", err)
			}
			if err := rt.service.UpdateSecrets(cmd.Context(), line); err != nil {
				return err
			}
			fmt.Println("API key stored")
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		role string
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for a host-site account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id, err := strconv.Atoi(args[0]); err != nil || id <= 0 {
				return fmt.Errorf("user id must be a positive integer: %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.CheckSecrets(); err != nil {
				return err
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.Claims{
				Sub:  args[0],
				Name: name,
				Role: string(rbac.Normalize(role)),
				JTI:  uuid.NewString(),
				Exp:  time.Now().Add(ttl).Unix(),
			})
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleAdministrator), "Role claim")
	cmd.Flags().StringVar(&name, "name", "", "Display name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func newUninstallCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Delete stored settings and cached issue tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to uninstall without --yes")
			}
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.service.Uninstall(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Settings and cache removed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm removal")
	return cmd
}
