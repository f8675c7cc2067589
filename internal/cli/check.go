package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"coursebot/internal/config"
	"coursebot/internal/db"
	"coursebot/internal/llm"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	Fix bool // if true, write default config when missing
}

// Function variables for dependency injection in tests.
var (
	getenv             = os.Getenv
	configWriteDefault = config.WriteDefault
	dbPingTimeout      = 5 * time.Second
)

// RunCheck runs the check subcommand: checks config, gateway, model, database
// and paths; optionally repairs a missing config. Returns exit code.
func RunCheck(args []string, stdout, stderr io.Writer) int {
	opts := parseCheckOptions(args)
	cfgPath := config.Path(getenv)

	note := func(section, message string) {
		fmt.Fprintf(stdout, "  [%s] %s\n", section, message)
	}

	// 1. Config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			note("Config", err.Error())
			return 1
		}
		note("Config", fmt.Sprintf("No config at %s.", cfgPath))
		if !opts.Fix {
			note("Config", "Run with --fix to create a default coursebot.json.")
			fmt.Fprintln(stdout, "  Check complete.")
			return 0
		}
		if writeErr := configWriteDefault(cfgPath); writeErr != nil {
			fmt.Fprintf(stderr, "  failed to write default config: %v\n", writeErr)
			return 1
		}
		note("Config", fmt.Sprintf("Wrote default config to %s.", cfgPath))
		fmt.Fprintln(stdout, "  Check complete.")
		return 0
	}
	note("Config", fmt.Sprintf("Loaded %s.", cfgPath))
	code := 0

	// 2. Gateway
	auth := "off"
	switch {
	case cfg.Gateway.AuthToken != "" && cfg.Gateway.JWTSecretEnv != "":
		auth = "bearer+jwt"
	case cfg.Gateway.AuthToken != "":
		auth = "bearer"
	case cfg.Gateway.JWTSecretEnv != "":
		auth = "jwt"
	}
	note("Gateway", fmt.Sprintf("port=%d auth=%s", cfg.Gateway.Port, auth))
	if auth == "off" {
		note("Gateway", "Auth is disabled. Set gateway.authToken or gateway.jwtSecretEnv for production.")
	}
	if env := cfg.Gateway.JWTSecretEnv; env != "" && getenv(env) == "" {
		note("Gateway", fmt.Sprintf("JWT secret not set (export %s=<secret>)", env))
		code = 1
	}

	// 3. Model
	note("Model", fmt.Sprintf("provider=%s model=%s maxToolRounds=%d", providerName(cfg.Model.Provider), cfg.Model.Name, cfg.Model.MaxToolRounds))
	if cfg.Model.Provider == "anthropic" {
		env := cfg.Model.APIKeyEnv
		if env == "" {
			env = llm.DefaultAPIKeyEnv
		}
		if getenv(env) == "" {
			note("Model", fmt.Sprintf("API key not set (export %s=<key>).", env))
			code = 1
		}
	}

	// 4. Database
	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()
	conn, err := db.Connect(ctx, cfg.Retrieval.DatabaseURL)
	if err != nil {
		note("Database", err.Error())
		code = 1
	} else {
		conn.Close()
		note("Database", fmt.Sprintf("%s (%s) ok.", cfg.Retrieval.DatabaseURL, db.Driver(cfg.Retrieval.DatabaseURL)))
	}

	// 5. Paths
	if dir := cfg.Session.HistoryDir; dir != "" {
		if err := ensureDir(dir, "session.historyDir"); err != nil {
			note("Paths", err.Error())
		} else {
			note("Paths", fmt.Sprintf("session.historyDir %s ok.", dir))
		}
	}

	fmt.Fprintln(stdout, "  Check complete.")
	return code
}

func providerName(p string) string {
	if p == "" {
		return "local"
	}
	return p
}

func parseCheckOptions(args []string) CheckOptions {
	var opts CheckOptions
	for _, a := range args {
		if a == "--fix" || a == "-fix" {
			opts.Fix = true
			break
		}
	}
	return opts
}

func ensureDir(dir, label string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(abs, 0755); mkErr != nil {
				return fmt.Errorf("%s %q: mkdir failed: %w", label, abs, mkErr)
			}
			return nil
		}
		return fmt.Errorf("%s %q: %w", label, abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %q: not a directory", label, abs)
	}
	return nil
}
