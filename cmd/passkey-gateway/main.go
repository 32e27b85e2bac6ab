// ABOUTME: Entry point for the passkey-gateway server
// ABOUTME: Serves the public and admin APIs, writes starter configs and probes a running gateway

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/passkey-gateway/internal/config"
	"github.com/2389/passkey-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                    _                                _
 _ __   __ _ ___ ___| | _____ _   _        __ _  __ _| |_ _____      ____ _ _   _
| '_ \ / _' / __/ __| |/ / _ \ | | |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_) | (_| \__ \__ \   <  __/ |_| |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
| .__/ \__,_|___/___/_|\_\___|\__, |      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
|_|                           |___/       |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: PASSKEY_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/passkey-gateway/gateway.yaml > ~/.config/passkey-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PASSKEY_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "passkey-gateway", "gateway.yaml")
}

// getDataPath returns the directory holding the database.
// Priority: XDG_DATA_HOME/passkey-gateway > ~/.local/share/passkey-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "passkey-gateway")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: passkey-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway server (SIGHUP reloads the config)")
		fmt.Println("  init      Create a new config file interactively")
		fmt.Println("  health    Check that a running gateway is alive")
		fmt.Println("  ready     Check that a running gateway can reach its store and cache")
		os.Exit(1)
	}

	// A missing .env is normal; values already in the environment win.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	provider, err := config.NewProvider(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := provider.Get()

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("RP ID:     %s ", cfg.WebAuthn.RPID)
	gray.Printf("(%s)\n", strings.Join(cfg.WebAuthn.RPOrigins, ", "))
	green.Print("    ▶ ")
	fmt.Printf("Cache:     %s\n", cfg.Cache.Driver)
	if cfg.Tokens.EnforceSingleUse {
		green.Print("    ▶ ")
		yellow.Println("Tokens:    single use")
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting passkey-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"rp_id", cfg.WebAuthn.RPID,
	)

	gw, err := gateway.New(provider, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	go reloadOnHangup(ctx, provider, logger)

	return gw.Run(ctx)
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends.
// A bad file is logged and the running configuration stays in place.
func reloadOnHangup(ctx context.Context, provider *config.Provider, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := provider.Reload()
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			logger.Info("config reloaded",
				"register_ttl", cfg.Tokens.RegisterTTL,
				"sign_in_ttl", cfg.Tokens.SignInTTL,
				"rate_limit_rps", cfg.RateLimit.RequestsPerSecond,
			)
		}
	}
}

func runProbe(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("passkey-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "127.0.0.1:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Relying Party ---")
	rpID := prompt(reader, "RP ID (your site's domain)", "localhost")
	rpName := prompt(reader, "RP display name", rpID)
	rpOrigin := prompt(reader, "Allowed origin", "http://localhost:3000")

	fmt.Println("\n--- Cache ---")
	cacheDriver := prompt(reader, "Feature flag cache (memory/redis)", "memory")
	var redisAddr string
	if cacheDriver == "redis" {
		redisAddr = prompt(reader, "Redis address", "localhost:6379")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating admin secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	var cfg strings.Builder
	cfg.WriteString("# passkey-gateway configuration\n")
	cfg.WriteString("# Generated by passkey-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("  shutdown_timeout: \"10s\"\n\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  admin_jwt_secret: %q\n\n", secret))

	cfg.WriteString("webauthn:\n")
	cfg.WriteString(fmt.Sprintf("  rp_id: %q\n", rpID))
	cfg.WriteString(fmt.Sprintf("  rp_display_name: %q\n", rpName))
	cfg.WriteString("  rp_origins:\n")
	cfg.WriteString(fmt.Sprintf("    - %q\n\n", rpOrigin))

	cfg.WriteString("tokens:\n")
	cfg.WriteString("  register_ttl: \"2m\"\n")
	cfg.WriteString("  sign_in_ttl: \"2m\"\n")
	cfg.WriteString("  step_up_ttl: \"5m\"\n")
	cfg.WriteString("  enforce_single_use: false\n\n")

	cfg.WriteString("signing_keys:\n")
	cfg.WriteString("  retention: \"720h\"\n\n")

	cfg.WriteString("maintenance:\n")
	cfg.WriteString("  purge_signing_keys:\n")
	cfg.WriteString("    enabled: true\n")
	cfg.WriteString("    time_of_day: \"03:00\"\n")
	cfg.WriteString("  credential_report:\n")
	cfg.WriteString("    enabled: true\n")
	cfg.WriteString("    time_of_day: \"22:00\"\n\n")

	cfg.WriteString("cache:\n")
	cfg.WriteString(fmt.Sprintf("  driver: %q\n", cacheDriver))
	if redisAddr != "" {
		cfg.WriteString("  redis:\n")
		cfg.WriteString(fmt.Sprintf("    addr: %q\n", redisAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n\n", logFormat))

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the admin signing secret.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	if _, err := config.Load(outputFile); err != nil {
		return fmt.Errorf("generated config does not validate: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("\n  ✓ Config written to %s\n", outputFile)
	green.Printf("  ✓ Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  passkey-admin tenant create <name>")
	fmt.Println("  passkey-gateway serve")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
