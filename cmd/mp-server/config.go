package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type appConfig struct {
	listenAddr      string
	identityBaseURL string
	logFormat       string
	logLevel        string
	logDir          string
	metricsAddr     string
	logMetricsEvery time.Duration
	maxSessions     int
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	_ = godotenv.Load()

	cfg := &appConfig{}
	listen := flag.String("listen", ":12346", "TCP listen address")
	identityURL := flag.String("identity-url", "http://127.0.0.1:8080", "Base URL of the identity/chart/record HTTP collaborator")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	logDir := flag.String("log-dir", "log", "Directory for hourly-rotated log files")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	maxSessions := flag.Int("max-sessions", 0, "Maximum simultaneous sessions (0 = unlimited)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default mp-server-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.identityBaseURL = *identityURL
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logDir = *logDir
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxSessions = *maxSessions
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.identityBaseURL == "" {
		return errors.New("identity-url must not be empty")
	}
	if c.maxSessions < 0 {
		return errors.New("max-sessions must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps MP_SERVER_* environment variables onto config
// fields unless the corresponding flag was explicitly set (flags win).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("MP_SERVER_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["identity-url"]; !ok {
		if v, ok := get("MP_SERVER_IDENTITY_URL"); ok && v != "" {
			c.identityBaseURL = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("MP_SERVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("MP_SERVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["log-dir"]; !ok {
		if v, ok := get("MP_SERVER_LOG_DIR"); ok && v != "" {
			c.logDir = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("MP_SERVER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["max-sessions"]; !ok {
		if v, ok := get("MP_SERVER_MAX_SESSIONS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxSessions = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MP_SERVER_MAX_SESSIONS: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("MP_SERVER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("MP_SERVER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("MP_SERVER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MP_SERVER_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
