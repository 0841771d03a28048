// ABOUTME: Entry point for the disco-collab collaboration gateway
// ABOUTME: Subcommands to serve, write a starter config, mint tokens and probe health

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/disco-collab/internal/auth"
	"github.com/2389/disco-collab/internal/config"
	"github.com/2389/disco-collab/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _ _                           _ _       _
  __| (_)___  ___ ___         ___ | | | __ _| |__
 / _' | / __|/ __/ _ \ _____ / __/ _ \ | |/ _' | '_ \
| (_| | \__ \ (_| (_) |_____| (_| (_) | | | (_| | |_) |
 \__,_|_|___/\___\___/       \___\___/|_|_|\__,_|_.__/
`

const defaultTokenTTL = 30 * 24 * time.Hour

func usage() {
	fmt.Println("Usage: disco-collab <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the collaboration gateway")
	fmt.Println("  init [--force]                 Write a starter config file")
	fmt.Println("  token --user ID [--admin]      Mint a client token from the configured secret")
	fmt.Println("        [--ttl DURATION]")
	fmt.Println("  health                         Check gateway health and readiness")
	fmt.Println()
	fmt.Println("The config path is $DISCO_CONFIG, or disco-collab/config.yaml in the user config directory.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
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
	configPath := config.DefaultPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Ledger:    %s\n", cfg.Database.Path)
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ▶ ")
		yellow.Println("Auth:      anonymous (user_id parameter)")
	}
	if cfg.Relay.RedisURL != "" {
		green.Print("    ▶ ")
		fmt.Printf("Relay:     %s\n", cfg.Relay.Channel)
	}

	fmt.Println()

	logger.Info("starting disco-collab",
		"version", version,
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runInit writes the starter config to the config path.
func runInit(args []string) error {
	force := false
	for _, arg := range args {
		switch arg {
		case "--force", "-f":
			force = true
		default:
			return fmt.Errorf("unknown argument: %s", arg)
		}
	}

	configPath := config.DefaultPath()
	if err := writeStarter(configPath, force); err != nil {
		return err
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Printf("  ✓ Config written to %s\n", configPath)
	fmt.Println()
	yellow.Println("  To enable token auth, export a secret before serving:")
	fmt.Printf("    export DISCO_JWT_SECRET=%s\n", secret)
	fmt.Println()
	fmt.Println("  Then start the gateway:")
	fmt.Println("    disco-collab serve")
	return nil
}

// writeStarter writes config.Starter to path, refusing to overwrite unless force is set.
func writeStarter(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.Starter), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

// tokenArgs holds the parsed flags of the token command.
type tokenArgs struct {
	userID string
	admin  bool
	ttl    time.Duration
}

// parseTokenArgs supports both "--flag value" and "--flag=value" forms.
func parseTokenArgs(args []string) (tokenArgs, error) {
	out := tokenArgs{ttl: defaultTokenTTL}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--admin":
			if hasValue {
				return out, fmt.Errorf("--admin takes no value")
			}
			out.admin = true
		case "--user", "-u", "--ttl":
			if !hasValue {
				if i+1 >= len(args) {
					return out, fmt.Errorf("%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			if name == "--ttl" {
				d, err := time.ParseDuration(value)
				if err != nil || d <= 0 {
					return out, fmt.Errorf("invalid --ttl %q", value)
				}
				out.ttl = d
			} else {
				out.userID = strings.TrimSpace(value)
			}
		default:
			if strings.HasPrefix(arg, "-") {
				return out, fmt.Errorf("unknown flag: %s", arg)
			}
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if out.userID == "" {
		return out, errors.New("--user flag is required")
	}
	return out, nil
}

// runToken mints a JWT for a user from the configured secret.
func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s (the gateway is in anonymous mode)", configPath)
	}

	token, err := mintToken(cfg.Auth.JWTSecret, parsed)
	if err != nil {
		return err
	}

	fmt.Println(token)
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(os.Stderr, "user %s, expires %s\n", parsed.userID, time.Now().Add(parsed.ttl).UTC().Format("Jan 02, 2006 15:04 MST"))
	return nil
}

func mintToken(secret string, args tokenArgs) (string, error) {
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	var roles []string
	if args.admin {
		roles = []string{"admin"}
	}
	token, err := verifier.Generate(args.userID, roles, args.ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	base := "http://" + cfg.Server.HTTPAddr
	if _, err := probe(ctx, base+"/health"); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Println("healthy")

	body, err := probe(ctx, base+"/health/ready")
	if err != nil {
		return fmt.Errorf("not ready: %w", err)
	}
	fmt.Println(body)
	return nil
}

// probe GETs url and returns the body, failing on any non-200 status.
func probe(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}
