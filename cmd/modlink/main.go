// Modlink - resilient Modbus TCP gateway
//
// Connects to a PLC (real or simulated), polls its state, republishes
// changes to MQTT/Valkey/Kafka, and serves a REST API for connection
// control, I/O reads, coil writes, and network scanning.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modlink/api"
	"modlink/config"
	"modlink/driver"
	"modlink/kafka"
	"modlink/logging"
	"modlink/mqtt"
	"modlink/plcman"
	"modlink/push"
	"modlink/scan"
	"modlink/valkey"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Command line flags
var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	httpPort    = flag.Int("p", 0, "HTTP listen port (overrides config)")
	httpHost    = flag.String("host", "", "HTTP bind address (overrides config)")
	noAPI       = flag.Bool("no-api", false, "Disable REST API (ephemeral)")
	logFile     = flag.String("log", "", "Path to log file (optional)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging to debug.log (subsystem filter, e.g. \"modbus,plcman\"; \"all\" for everything)")
	scanSubnet  = flag.String("scan", "", "Scan a subnet for Modbus devices and exit (e.g. \"192.168.1\")")
	scanStart   = flag.Int("scan-start", 1, "First host octet for -scan")
	scanEnd     = flag.Int("scan-end", 254, "Last host octet for -scan")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("modlink %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *httpPort != 0 {
		cfg.Web.Port = *httpPort
	}
	if *httpHost != "" {
		cfg.Web.Host = *httpHost
	}
	if *noAPI {
		cfg.Web.Enabled = false
	}

	setupDebugLogging(*logDebug)
	fileLog := setupFileLogging(*logFile, cfg)
	defer fileLog.Close()

	// One-shot scan mode: probe and print, no service startup.
	if *scanSubnet != "" {
		runScan(cfg, *scanSubnet, *scanStart, *scanEnd)
		return
	}

	run(cfg)
}

// runScan performs a one-shot subnet scan and prints online devices.
func runScan(cfg *config.Config, subnet string, start, end int) {
	if start > end {
		fmt.Fprintf(os.Stderr, "Error: scan start %d is after end %d\n", start, end)
		os.Exit(1)
	}

	scanner := scan.NewScanner(cfg.Scan.Timeout, cfg.Scan.Port, cfg.Scan.Workers)
	fmt.Printf("Scanning %s.%d-%d on port %d...\n", subnet, start, end, scanner.Port)

	devices, total, elapsed := scanner.OnlineDevices(subnet, start, end)
	fmt.Printf("Probed %d addresses in %s, %d online\n",
		total, elapsed.Round(10*time.Millisecond), len(devices))
	for _, d := range devices {
		fmt.Printf("  %s:%d  %.2f ms\n", d.Address, d.Port, d.LatencyMS)
	}
}

func setupDebugLogging(filter string) {
	if filter == "" {
		return
	}
	logger, err := logging.NewDebugLogger("debug.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		return
	}
	if filter == "all" || filter == "true" || filter == "1" {
		filter = ""
	}
	logger.SetFilter(filter)
	logging.SetGlobalDebugLogger(logger)
}

// setupFileLogging opens the operational log and installs it as the
// global sink for logging.Info. The returned logger is nil-safe to close.
func setupFileLogging(path string, cfg *config.Config) *logging.FileLogger {
	if path == "" {
		path = cfg.LogFile
	}
	if path == "" {
		return nil
	}
	logger, err := logging.NewFileLogger(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to open log file: %v\n", err)
		return nil
	}
	logging.SetGlobalFileLogger(logger)
	return logger
}

// run is the service startup flow.
func run(cfg *config.Config) {
	// Build the configured client; the factory never dials.
	client, err := driver.Create(&cfg.PLC)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	service := plcman.NewService(cfg)
	service.Attach(client, cfg.PLC.Host, cfg.PLC.Port)
	defer service.Disconnect()

	// Downstream sinks, started if enabled. A broker that is down only
	// logs a warning; the gateway still serves reads and writes.
	pushMgr := push.NewManager()
	if cfg.MQTT.Enabled {
		pushMgr.Register(mqtt.NewPublisher(&cfg.MQTT, cfg.PLC.Scene))
	}
	if cfg.Valkey.Enabled {
		pushMgr.Register(valkey.NewPublisher(&cfg.Valkey, cfg.PLC.Scene))
	}
	if cfg.Kafka.Enabled {
		pushMgr.Register(kafka.NewProducer(&cfg.Kafka, cfg.PLC.Scene))
	}
	pushMgr.Start()
	defer pushMgr.Stop()

	poller := plcman.NewPoller(service, cfg.PollRate, nil, pushMgr.HandleChanges)
	poller.Start()
	defer poller.Stop()

	var server *api.Server
	if cfg.Web.Enabled {
		server = api.NewServer(service, cfg, pushMgr)
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to start API server on port %d: %v\n",
				cfg.Web.Port, err)
			server = nil
		} else {
			fmt.Printf("REST API at %s\n", server.Address())
		}
	}

	fmt.Printf("modlink %s: %s PLC at %s (scene %s)\n",
		Version, cfg.PLC.Kind, cfg.PLC.Address(), cfg.PLC.Scene)
	logging.Info("main", "modlink %s started: %s PLC at %s (scene %s)",
		Version, cfg.PLC.Kind, cfg.PLC.Address(), cfg.PLC.Scene)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	logging.Info("main", "shutting down")
	if server != nil {
		server.Stop()
	}
}
