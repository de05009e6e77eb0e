package config

import (
	"flag"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
)

var deviceFlags = []string{"-n", "-r", "-d", "-a", "-l", "-f", "-p", "-s", "-k", "-i", "-b", "-t", "-o"}

// parseFlags overlays cfg with the flags it owns in args.
//
//	-n string   device id
//	-r string   role (field-worker, facility)
//	-d string   sqlite DSN
//	-a string   gRPC listen address
//	-l string   HTTP API listen address
//	-f string   facility address
//	-p string   comma separated static peers, id=host:port
//	-s string   sync schedule (cron spec, "" disables)
//	-k string   change-log compaction schedule (cron spec, "" disables)
//	-i int      probe interval in seconds
//	-b int      batch size
//	-t string   tie-break rule
//	-o string   log file
func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("device", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.DeviceID, "n", cfg.DeviceID, "device id")
	fs.StringVar(&cfg.Role, "r", cfg.Role, "device role")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "sqlite DSN")
	fs.StringVar(&cfg.EndpointAddrGRPC, "a", cfg.EndpointAddrGRPC, "gRPC listen address")
	fs.StringVar(&cfg.EndpointAddrHTTP, "l", cfg.EndpointAddrHTTP, "HTTP API listen address")
	fs.StringVar(&cfg.FacilityAddr, "f", cfg.FacilityAddr, "facility address")
	peers := fs.String("p", strings.Join(cfg.Peers, ","), "static peers")
	fs.StringVar(&cfg.SyncSchedule, "s", cfg.SyncSchedule, "sync schedule")
	fs.StringVar(&cfg.CompactionSchedule, "k", cfg.CompactionSchedule, "compaction schedule")
	probe := fs.Int("i", int(cfg.ProbeInterval.Seconds()), "probe interval (in seconds)")
	fs.IntVar(&cfg.BatchSize, "b", cfg.BatchSize, "batch size")
	fs.StringVar(&cfg.TieBreak, "t", cfg.TieBreak, "tie-break rule")
	fs.StringVar(&cfg.LogFile, "o", cfg.LogFile, "log file")

	if err := fs.Parse(flagx.FilterArgs(args, deviceFlags)); err != nil {
		return err
	}

	cfg.Peers = nil
	for _, p := range strings.Split(*peers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.Peers = append(cfg.Peers, p)
		}
	}
	// keep sub-second intervals from JSON unless -i was given
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "i" {
			cfg.ProbeInterval = time.Duration(*probe) * time.Second
		}
	})
	return nil
}
