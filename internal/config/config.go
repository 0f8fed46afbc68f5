// Package config resolves the process configuration from command-line flags
// with environment-variable fallbacks.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

type Config struct {
	Tracker   string
	Protocols []string // subset of {tcp, udp}
	Port      int

	BrokerHost string
	BrokerPort int
	BrokerUser string
	BrokerPass string
	Exchange   string

	AuditPath   string
	MetricsPort string
	RedisAddr   string
}

// Load parses args (without the program name). Validation failures are
// returned, not fatal-logged; main decides the exit code.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("ingest-svr", pflag.ContinueOnError)

	var cfg Config
	var protocols string
	fs.StringVar(&cfg.Tracker, "tracker", getEnv("TRACKER", ""), "device family tag selecting the parser (required)")
	fs.StringVar(&protocols, "protocols", getEnv("PROTOCOLS", ""), "comma-separated subset of tcp,udp (required)")
	fs.IntVar(&cfg.Port, "port", getEnvInt("PORT", 9999), "TCP/UDP listen port")
	fs.StringVar(&cfg.BrokerHost, "broker-host", getEnv("BROKER_HOST", "localhost"), "AMQP broker host")
	fs.IntVar(&cfg.BrokerPort, "broker-port", getEnvInt("BROKER_PORT", 5672), "AMQP broker port")
	fs.StringVar(&cfg.BrokerUser, "broker-user", getEnv("BROKER_USER", "guest"), "AMQP user")
	fs.StringVar(&cfg.BrokerPass, "broker-pass", getEnv("BROKER_PASS", "guest"), "AMQP password")
	fs.StringVar(&cfg.Exchange, "exchange", getEnv("EXCHANGE", "receiver"), "fan-out exchange name")
	fs.StringVar(&cfg.AuditPath, "audit-log", getEnv("AUDIT_LOG", "audit.log"), "audit log path")
	fs.StringVar(&cfg.MetricsPort, "metrics-port", getEnv("METRICS_PORT", "9090"), "Prometheus metrics port")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", ""), "optional Redis address for the last-position cache")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.Tracker == "" {
		return cfg, fmt.Errorf("tracker is required")
	}
	if protocols == "" {
		return cfg, fmt.Errorf("protocols is required")
	}
	seen := map[string]bool{}
	for _, p := range strings.Split(protocols, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if p != "tcp" && p != "udp" {
			return cfg, fmt.Errorf("unsupported protocol %q (want tcp or udp)", p)
		}
		if !seen[p] {
			seen[p] = true
			cfg.Protocols = append(cfg.Protocols, p)
		}
	}
	if len(cfg.Protocols) == 0 {
		return cfg, fmt.Errorf("protocols is required")
	}
	return cfg, nil
}

// BrokerURL assembles the AMQP dial string.
func (c Config) BrokerURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.BrokerUser, c.BrokerPass, c.BrokerHost, c.BrokerPort)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var n int
		if _, err := fmt.Sscanf(val, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
