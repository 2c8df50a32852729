package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nullbyte-labs/mqttbroker/internal/admin"
	"github.com/nullbyte-labs/mqttbroker/internal/adminstore"
	"github.com/nullbyte-labs/mqttbroker/internal/broker"
	"github.com/nullbyte-labs/mqttbroker/internal/config"
	"github.com/nullbyte-labs/mqttbroker/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	mqttHost := flag.String("mqtt-host", "", "MQTT server bind address (overrides config)")
	mqttPort := flag.Int("mqtt-port", 0, "MQTT server port (overrides config)")
	webPort := flag.Int("web-port", 8000, "Admin web interface port (informational; the admin HTTP surface is out of scope here)")
	allowAnonymous := flag.Bool("allow-anonymous", true, "Allow anonymous connections (overrides config)")
	maxConnections := flag.Int("max-connections", 0, "Maximum concurrent connections (overrides config)")
	maxKeepalive := flag.Int("max-keepalive", 0, "Maximum keep-alive seconds (overrides config)")
	flag.Parse()

	log.Println("Starting MQTT broker...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("No usable config file at %s (%v), starting from defaults", *configPath, err)
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	applyFlagOverrides(cfg, *mqttHost, *mqttPort, *allowAnonymous, *maxConnections, *maxKeepalive)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var store *adminstore.Store
	if cfg.Admin.Enabled {
		if dir := filepath.Dir(cfg.Admin.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatalf("Failed to create admin store directory: %v", err)
			}
		}
		store, err = adminstore.Open(cfg.Admin.Path)
		if err != nil {
			log.Fatalf("Failed to open admin store: %v", err)
		}
		defer store.Close()
		log.Printf("Admin store opened at %s", cfg.Admin.Path)
	}

	var coll *metrics.Collectors
	if cfg.Metrics.Enabled {
		coll = metrics.New(prometheus.DefaultRegisterer)
	}

	b := broker.New(*cfg, nil, coll, log.Default())
	adminSurface := admin.New(b, store, log.Default())
	if err := adminSurface.LoadPersisted(); err != nil {
		log.Printf("Failed to load persisted admin state: %v", err)
	}

	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			http.Handle(cfg.Metrics.Path, promhttp.Handler())
			log.Printf("Metrics server starting on %s%s", addr, cfg.Metrics.Path)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	liveCfg := adminSurface.GetConfig()
	ln, err := broker.Listen(b, liveCfg.Server.Host, liveCfg.Server.Port)
	if err != nil {
		log.Fatalf("Failed to bind MQTT listener: %v", err)
	}

	go func() {
		if err := ln.Serve(); err != nil {
			log.Printf("Listener stopped: %v", err)
		}
	}()

	log.Println("MQTT broker started successfully")
	log.Printf("  -> MQTT listening on %s", ln.Addr())
	log.Printf("  -> Admin web interface expected on port %d (not implemented by this engine)", *webPort)
	if cfg.Metrics.Enabled {
		log.Printf("  -> Metrics available at http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path)
	}
	log.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down broker...")
	if err := ln.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	fmt.Println("Broker stopped gracefully")
}

// applyFlagOverrides layers explicitly-set CLI flags over a loaded or
// default configuration. Flags left at their zero value do not override
// the config file, except allow-anonymous, which always overrides it
// (its flag default is true).
func applyFlagOverrides(cfg *config.Config, host string, port int, allowAnonymous bool, maxConnections, maxKeepalive int) {
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	cfg.Auth.AllowAnonymous = allowAnonymous
	if maxConnections != 0 {
		cfg.Limits.MaxConnections = maxConnections
	}
	if maxKeepalive != 0 {
		cfg.Limits.MaxKeepAliveSeconds = maxKeepalive
	}
}
