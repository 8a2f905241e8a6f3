// Program iftopweb supervises one iftop subprocess per configured network
// interface, parses their periodic text reports into structured bandwidth
// samples, and pushes interface state to browser clients over WebSocket.
//
// Dataflow: iftop subprocesses -> parsers -> state store -> broadcast fan-out.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"iftopweb/config"
	"iftopweb/hosts"
	"iftopweb/iftop"
	"iftopweb/sample"
	"iftopweb/stats"
	"iftopweb/store"
	"iftopweb/wsserver"
)

// Version is stamped by the build; "dev" for local builds.
var Version = "dev"

const defaultConfigPath = "config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("iftopweb v%s\n", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	fanout, err := setupLogging(cfg.Logging, os.Stdout)
	if err != nil {
		log.Printf("Warning: file logging unavailable: %v", err)
	}
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()

	log.Printf("iftopweb v%s starting...", Version)
	cfg.Print()

	warnMissingInterfaces(cfg.InterfaceNames())

	tracker := stats.NewTracker()

	// Host-name enrichment is optional; without it samples carry raw
	// addresses only.
	var resolver iftop.HostResolver
	var hostsCron *cron.Cron
	if cfg.Hosts.Enabled {
		table := &hosts.Table{}
		refresher := hosts.NewRefresher(table, cfg.Hosts.EthersPath, cfg.Hosts.LeaseCommand)
		if err := refresher.Refresh(); err != nil {
			log.Printf("Warning: initial host table load failed: %v", err)
		} else {
			log.Printf("Host table loaded: %d entries", table.Len())
		}
		hostsCron = cron.New()
		if _, err := hostsCron.AddFunc(cfg.Hosts.RefreshCron, func() {
			if err := refresher.Refresh(); err != nil {
				log.Printf("Host table refresh failed: %v", err)
			}
		}); err != nil {
			log.Printf("Warning: invalid hosts refresh schedule %q: %v", cfg.Hosts.RefreshCron, err)
		} else {
			hostsCron.Start()
		}
		resolver = table
	}

	// Authoritative per-interface state, pre-seeded so clients always see
	// the complete configured set.
	storeIfaces := make([]store.Interface, 0, len(cfg.Interfaces))
	for _, iface := range cfg.Interfaces {
		storeIfaces = append(storeIfaces, store.Interface{
			Name:        iface.Name,
			CapacityBps: iface.CapacityBps,
		})
	}
	st := store.New(storeIfaces)

	runnerCfg := iftop.RunnerConfig{
		Command:     cfg.Sampler.Command,
		BackoffBase: time.Duration(cfg.Sampler.BackoffBaseSeconds) * time.Second,
		BackoffMax:  time.Duration(cfg.Sampler.BackoffMaxSeconds) * time.Second,
		MaxFailures: cfg.Sampler.MaxFailures,
		DisplayCap:  cfg.Sampler.TopConnections,
	}

	// One independent supervisor per interface. A permanent failure on one
	// interface is reported to clients and leaves the others sampling.
	runners := make(map[string]*iftop.Runner, len(cfg.Interfaces))
	for _, iface := range cfg.Interfaces {
		r := iftop.NewRunner(iface.Name, runnerCfg, resolver)
		runners[iface.Name] = r
		log.Print(statusSummary(iface.Name, sample.StatusWaiting, iface.CapacityBps))

		go func(name string, r *iftop.Runner) {
			for smp := range r.Samples() {
				if st.Update(smp) {
					tracker.IncrementSample(name)
				} else {
					tracker.IncrementDiscard(name)
				}
			}
			// Sample channel closed: the supervisor is done. Propagate a
			// terminal status so clients stop waiting for data.
			if r.Status() == sample.StatusFailed {
				st.SetStatus(name, sample.StatusFailed)
			}
		}(iface.Name, r)
		r.Start()
	}

	srv := wsserver.NewServer(wsserver.Options{
		Name:            cfg.Server.Name,
		BindAddress:     cfg.Server.BindAddress,
		Port:            cfg.Server.Port,
		MaxConnections:  cfg.Server.MaxConnections,
		ClientQueueSize: cfg.Server.ClientQueueSize,
	}, st)
	if err := srv.Start(); err != nil {
		log.Fatalf("Error starting server: %v", err)
	}

	statsStop := make(chan struct{})
	statsInterval := time.Duration(cfg.Stats.DisplayIntervalSeconds) * time.Second
	go displayStats(statsInterval, tracker, runners, st, srv, fanout, statsStop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Println("Monitor is running. Press Ctrl+C to stop.")
	log.Printf("Browser endpoint: ws://%s:%d/ws", cfg.Server.BindAddress, cfg.Server.Port)
	log.Printf("Statistics will be displayed every %d seconds...", cfg.Stats.DisplayIntervalSeconds)
	log.Println("---")

	sig := <-sigChan
	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down gracefully...")

	close(statsStop)

	// Stop samplers first so no new state flows while the server drains.
	for _, r := range runners {
		r.Stop()
	}
	if hostsCron != nil {
		<-hostsCron.Stop().Done()
	}
	srv.Stop()

	log.Println("Monitor stopped")
}

// warnMissingInterfaces logs when a configured interface does not currently
// exist on the system. Sampling still starts: the supervisor's restart and
// failure accounting handles interfaces that appear later or never.
func warnMissingInterfaces(names []string) {
	known, err := gopsnet.Interfaces()
	if err != nil {
		log.Printf("Warning: could not enumerate system interfaces: %v", err)
		return
	}
	present := make(map[string]bool, len(known))
	for _, iface := range known {
		present[iface.Name] = true
	}
	for _, name := range names {
		if !present[name] {
			log.Printf("Warning: interface %s not found on this system", name)
		}
	}
}
