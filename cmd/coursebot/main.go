package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"coursebot/internal/cli"
)

// buildMeta holds version and build metadata (injectable via ldflags).
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("coursebot %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:           "coursebot",
		Short:         "Course materials assistant",
		Long:          "Coursebot answers questions about course materials with a tool-using language model.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return runServe(cmd, args)
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")
	root.PersistentFlags().String("config", "", "config file (default $COURSEBOT_CONFIG or coursebot.json)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().String("load", "", "load course manifests from this directory before serving")
	root.Flags().AddFlagSet(serveCmd.Flags())
	root.AddCommand(serveCmd)

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print its sources",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	askCmd.Flags().String("session", "", "continue an existing session")
	root.AddCommand(askCmd)

	loadCmd := &cobra.Command{
		Use:   "load [dir]",
		Short: "Load course manifests (*.yaml, *.yml) into the course store",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLoad,
	}
	loadCmd.Flags().Bool("replace", false, "replace courses that are already loaded")
	root.AddCommand(loadCmd)

	root.AddCommand(&cobra.Command{
		Use:   "courses",
		Short: "List loaded courses",
		Args:  cobra.NoArgs,
		RunE:  runCourses,
	})

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed JWT for the gateway",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}
	tokenCmd.Flags().String("subject", "coursebot-client", "token subject")
	tokenCmd.Flags().Duration("ttl", defaultTokenTTL, "token lifetime")
	root.AddCommand(tokenCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, model, database and paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyConfigFlag(cmd)
			fix, _ := cmd.Flags().GetBool("fix")
			checkArgs := []string{"coursebot", "check"}
			if fix {
				checkArgs = append(checkArgs, "--fix")
			}
			if code := cli.RunCheck(checkArgs, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	checkCmd.Flags().Bool("fix", false, "write default config if missing")
	root.AddCommand(checkCmd)

	return root
}

func getVersion() string {
	if version != "" {
		return version
	}
	b, err := os.ReadFile("VERSION")
	if err != nil {
		return "dev"
	}
	return strings.TrimSpace(string(b))
}

// version is set at build time via ldflags for build metadata, e.g.:
//
//	go build -ldflags "-X main.version=1.0.0" -o coursebot ./cmd/coursebot
var version string

// exitCodeErr carries an exit code for the process. When returned from a command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// runApp runs the root command with the given args and returns the exit code.
func runApp(args []string) int {
	return runAppContext(context.Background(), args, os.Stdout, os.Stderr)
}

func runAppContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(newBuildMeta(getVersion(), "", ""))
	root.SetArgs(args[1:])
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		var ec interface{ ExitCode() int }
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
