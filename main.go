package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/matt0x6f/cascade/internal/config"
	"github.com/matt0x6f/cascade/internal/logger"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const appVersion = "0.1.0"

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "cascade.toml"
	}
	return filepath.Join(dir, "cascade", "cascade.toml")
}

func main() {
	var (
		configPath    = pflag.StringP("config", "c", defaultConfigPath(), "path to the TOML configuration file")
		logLevel      = pflag.String("log-level", "", "override the configured log level (trace, debug, info, warn, error)")
		metricsListen = pflag.String("metrics-listen", "", "enable the Prometheus listener on this address")
		daemon        = pflag.Bool("daemon", false, "run without the interactive console")
		savePasswords = pflag.Bool("save-passwords", false, "store prompted passwords in the OS keyring")
		showVersion   = pflag.BoolP("version", "V", false, "print the version and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println("cascade " + appVersion)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := logger.SetLevelFromString(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "Invalid log level:", err)
		os.Exit(1)
	}
	if *metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsListen
	}

	app, err := NewApp(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error initializing app:", err)
		os.Exit(1)
	}

	interactive := !*daemon && term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		promptMissingPasswords(app, cfg, *savePasswords)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
		cancel()
	}()

	app.Run(ctx, interactive)
}

// promptMissingPasswords asks for SASL passwords configured nowhere, before
// any connection opens, so registration does not fail on a known-missing
// credential. EXTERNAL and certificate setups need no password.
func promptMissingPasswords(app *App, cfg *config.Config, save bool) {
	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		if !n.SASL.Enabled || n.SASL.Password != "" {
			continue
		}
		if strings.EqualFold(n.SASL.Mechanism, "EXTERNAL") || n.SASL.HasClientCertificate() {
			continue
		}
		if stored, err := app.keychain.GetSASLPassword(n.Name); err == nil && stored != "" {
			continue
		}

		fmt.Printf("SASL password for %s (account %s): ", n.Name, n.SASL.Account)
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			logger.Log.Warn().Err(err).Str("network", n.Name).Msg("Password prompt failed")
			continue
		}
		n.SASL.Password = string(secret)

		if save && len(secret) > 0 {
			if err := app.keychain.StoreSASLPassword(n.Name, string(secret)); err != nil {
				logger.Log.Warn().Err(err).Str("network", n.Name).Msg("Failed to store password in keyring")
			}
		}
	}
}
