package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fleetscan/internal/config"
	"fleetscan/internal/probe"
	"fleetscan/internal/repository"
	"fleetscan/internal/repository/sqlite"
	"fleetscan/internal/scan"
	"fleetscan/internal/telemetry"
	"fleetscan/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "config file path (overrides search)")
	target := flag.String("target", "", "address to probe (required)")
	port := flag.Int("port", 0, "port override; 0 uses each prober's default")
	probers := flag.String("probers", "", "comma-separated prober names; empty runs all")
	timeout := flag.Duration("timeout", 0, "per-prober timeout; 0 uses the configured default")
	dbPath := flag.String("db", "", "SQLite path for result persistence; empty disables")
	asJSON := flag.Bool("json", false, "emit telemetry records as JSON lines")
	flag.Parse()

	if *target == "" {
		fmt.Fprintln(os.Stderr, "usage: fleetscan -target <address> [-probers s7,onvif,...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, cfgPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(cfg.Log.Level)
	if cfgPath != "" {
		log.Debug().Str("path", cfgPath).Msg("config loaded")
	}

	registry := buildRegistry(cfg, log)
	runner := scan.NewRunner(registry, log)

	probeTimeout := *timeout
	if probeTimeout == 0 {
		probeTimeout = time.Duration(cfg.Probe.TimeoutMs) * time.Millisecond
	}

	var names []string
	if *probers != "" {
		for _, name := range strings.Split(*probers, ",") {
			names = append(names, strings.TrimSpace(name))
		}
	}

	var repo repository.Repository
	storePath := *dbPath
	if storePath == "" {
		storePath = cfg.Database.Path
	}
	if storePath != "" {
		store, err := sqlite.New(storePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", storePath).Msg("failed to open database")
		}
		defer store.Close()
		repo = store
	}

	ctx := context.Background()
	reports := runner.Run(ctx, probe.Target{
		Address: *target,
		Port:    *port,
		Timeout: probeTimeout,
	}, names)

	for _, rep := range reports {
		if repo != nil {
			rec := repository.Record{
				Address:   rep.Target.Address,
				Prober:    rep.Prober,
				Found:     rep.Result.Found,
				Details:   rep.Result.Details,
				ElapsedMs: rep.Elapsed.Milliseconds(),
			}
			if err := repo.SaveRecord(ctx, &rec); err != nil {
				log.Error().Err(err).Str("prober", rep.Prober).Msg("failed to persist report")
			}
		}

		if *asJSON {
			line, err := json.Marshal(telemetry.FromReport(rep))
			if err != nil {
				log.Error().Err(err).Str("prober", rep.Prober).Msg("failed to encode record")
				continue
			}
			fmt.Println(string(line))
			continue
		}

		printReport(rep)
	}
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// buildRegistry wires the built-in probers with their configured settings
func buildRegistry(cfg *config.Config, log zerolog.Logger) *probe.Registry {
	r := probe.NewRegistry()

	s7 := probe.NewS7Prober(log)
	s7.Rack = cfg.Probers.S7.Rack
	if cfg.Probers.S7.Slot != nil {
		s7.Slot = *cfg.Probers.S7.Slot
	}
	s7.ResponseTimeout = time.Duration(cfg.Probers.S7.ResponseTimeoutMs) * time.Millisecond
	r.Register(s7)

	dnsProber := probe.NewDNSProber(log)
	dnsProber.Domains = cfg.Probers.DNS.Domains
	dnsProber.Transport = cfg.Probers.DNS.Transport
	dnsProber.QueryTimeout = time.Duration(cfg.Probers.DNS.QueryTimeoutMs) * time.Millisecond
	dnsProber.SetRecordType(cfg.Probers.DNS.RecordType)
	r.Register(dnsProber)

	onvif := probe.NewONVIFProber(log)
	onvif.SubTimeout = time.Duration(cfg.Probers.ONVIF.SubTimeoutMs) * time.Millisecond
	r.Register(onvif)

	r.Register(probe.NewSSDPProber(log))

	sshProber := probe.NewSSHProber(log)
	if cfg.Probers.SSH.User != "" {
		sshProber.User = cfg.Probers.SSH.User
	}
	r.Register(sshProber)

	portscan := probe.NewPortScanProber(log)
	if cfg.Probers.PortScan.Ports != "" {
		portscan.Ports = cfg.Probers.PortScan.Ports
	}
	r.Register(portscan)

	return r
}

func printReport(rep scan.Report) {
	status := "absent"
	if rep.Result.Found {
		status = "FOUND"
	}
	fmt.Printf("%-10s %-8s %s (%s)\n", rep.Prober, status, rep.Target.Address, rep.Elapsed.Round(time.Millisecond))
	if !rep.Result.Found {
		return
	}
	keys := make([]string, 0, len(rep.Result.Details))
	for k := range rep.Result.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %v\n", k, rep.Result.Details[k])
	}
}
