package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"coursebot/internal/domain"
	"coursebot/internal/gateway"
	"coursebot/internal/manifest"
	"coursebot/internal/signals"
)

// defaultDocsDir is where load looks for manifests when no directory is given.
const defaultDocsDir = "docs"

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signals.NotifyContext(cmd.Context())
	defer stop()
	cmd.SetContext(ctx)

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if dir, _ := cmd.Flags().GetString("load"); dir != "" {
		if _, err := manifest.NewLoader(a.store, false, a.logger).LoadDir(ctx, dir); err != nil {
			return err
		}
	}

	srv, err := gateway.NewServer(&a.cfg.Gateway, a.system, a.logger, gateway.WithJWTSecret(jwtSecret(a.cfg)))
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return srv.Run(ctx)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	sessionID, _ := cmd.Flags().GetString("session")
	ans, err := a.system.Query(cmd.Context(), strings.Join(args, " "), sessionID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ans.Text)
	if len(ans.Sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, s := range ans.Sources {
			if s.Link != "" {
				fmt.Fprintf(out, "  - %s (%s)\n", s.Text, s.Link)
			} else {
				fmt.Fprintf(out, "  - %s\n", s.Text)
			}
		}
	}
	fmt.Fprintf(out, "\nsession: %s\n", ans.SessionID)
	return nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	dir := defaultDocsDir
	if len(args) == 1 {
		dir = args[0]
	}
	replace, _ := cmd.Flags().GetBool("replace")
	stats, err := manifest.NewLoader(a.store, replace, a.logger).LoadDir(cmd.Context(), dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "loaded %d courses (%d passages), skipped %d, failed %d\n",
		stats.Courses, stats.Passages, stats.Skipped, stats.Failed)
	if stats.Failed > 0 {
		return exitCodeErr(1)
	}
	return nil
}

func runCourses(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.system.CourseAnalytics(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d courses\n", stats.TotalCourses)
	for _, title := range stats.CourseTitles {
		fmt.Fprintf(out, "  - %s\n", title)
	}
	return nil
}

// jwtSecret reads the gateway JWT secret from the env var named in cfg.
// It returns nil when JWT auth is not configured.
func jwtSecret(cfg *domain.Config) []byte {
	if cfg.Gateway.JWTSecretEnv == "" {
		return nil
	}
	if v := getenv(cfg.Gateway.JWTSecretEnv); v != "" {
		return []byte(v)
	}
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	secret := jwtSecret(cfg)
	if secret == nil {
		if cfg.Gateway.JWTSecretEnv == "" {
			return errors.New("gateway.jwtSecretEnv is not set in config")
		}
		return fmt.Errorf("JWT secret not set (export %s=<secret>)", cfg.Gateway.JWTSecretEnv)
	}
	subject, _ := cmd.Flags().GetString("subject")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	tok, err := gateway.IssueToken(subject, secret, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}

const defaultTokenTTL = 24 * time.Hour
