package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgellow/signin-gate/internal"
	"github.com/dgellow/signin-gate/internal/config"
	"github.com/dgellow/signin-gate/internal/log"
	"github.com/joho/godotenv"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version": config.SupportedVersion,
		"server": map[string]any{
			"baseURL":      "https://app.yourcompany.com",
			"addr":         ":8080",
			"loginPath":    config.DefaultLoginPath,
			"logoutPath":   config.DefaultLogoutPath,
			"callbackPath": config.DefaultCallbackPath,
		},
		"provider": map[string]any{
			"name":         "github",
			"clientId":     "your-github-oauth-app-client-id",
			"clientSecret": map[string]string{"$env": "GITHUB_CLIENT_SECRET"},
		},
		"session": map[string]any{
			"cookieName":  config.DefaultCookieName,
			"maxAge":      "1h",
			"sameSite":    "lax",
			"signingKeys": []any{map[string]string{"$env": "SESSION_SIGNING_KEY"}},
		},
		"state": map[string]any{
			"store":           "memory",
			"ttl":             "10m",
			"cleanupInterval": "1m",
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			fmt.Printf("  - %s\n", err)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			fmt.Printf("  - %s\n", warn)
		}
	}

	fmt.Println()
	if len(result.Errors) == 0 && len(result.Warnings) == 0 {
		fmt.Println("Result: PASS")
	} else if len(result.Errors) == 0 {
		fmt.Println("Result: FAIL (warnings present)")
	} else {
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 || len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

// loadDotEnv loads a .env file if one exists. Variables already set win.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	log.LogDebugWithFields("main", "Loaded environment file", map[string]any{
		"path": path,
	})
	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	envFile := flag.String("env-file", ".env", "path to an optional .env file")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	if err := loadDotEnv(*envFile); err != nil {
		log.LogError("Failed to load env file: %v", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting signin-gate", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gate, err := internal.NewSigninGate(ctx, cfg)
	if err != nil {
		log.LogError("Failed to create sign-in gate: %v", err)
		os.Exit(1)
	}

	if err := gate.Run(ctx); err != nil {
		log.LogError("Server stopped with error: %v", err)
		os.Exit(1)
	}
}
