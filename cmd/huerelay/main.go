// Command huerelay polls a lighting hub and relays its state changes to
// line-protocol clients on a TCP port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/config"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/logging"
	"github.com/caboose014/Hue-Savant-Coprocessor/pkg/huerelay"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := opts.apply(&cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closer, err := logging.New(cfg.Log, version)
	if err != nil {
		return err
	}
	defer closer.Close()

	log.Debug("configuration loaded",
		"config", opts.configPath,
		"log_level", cfg.Log.Level,
		"log_output", cfg.Log.Output,
		"addr", cfg.Server.Addr,
		"poll_interval", cfg.Hub.PollInterval,
		"device_types", cfg.Hub.DeviceTypes,
	)

	err = huerelay.New(cfg, version, log).Run(ctx)
	log.Info("relay exited", "error", err)
	return err
}

// listFlag collects repeated or comma separated values.
type listFlag []string

func (l *listFlag) String() string { return fmt.Sprint([]string(*l)) }

func (l *listFlag) Set(v string) error {
	*l = append(*l, config.SplitList(v)...)
	return nil
}

// cliOptions holds the command line. Only flags that were given override
// the configuration file and environment.
type cliOptions struct {
	configPath string
	level      string
	debug      bool
	file       string
	port       int
	key        string
	address    string
	interval   string
	maxRecon   int
	reconTime  string
	types      listFlag

	set map[string]bool
}

func parseArgs(args []string, stderr io.Writer) (*cliOptions, error) {
	o := &cliOptions{set: map[string]bool{}}
	fs := flag.NewFlagSet("huerelay", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.configPath, "config", os.Getenv("HUERELAY_CONFIG"), "path to YAML config file")
	for _, name := range []string{"l", "log"} {
		fs.StringVar(&o.level, name, "info", "log level: critical, error, warning, info, debug, notset")
	}
	for _, name := range []string{"d", "debug"} {
		fs.BoolVar(&o.debug, name, false, "set log level to debug")
	}
	for _, name := range []string{"f", "file"} {
		fs.StringVar(&o.file, name, "stdout", "log output: stdout, stderr or a file path")
	}
	for _, name := range []string{"P", "port"} {
		fs.IntVar(&o.port, name, 8085, "TCP port for line-protocol clients")
	}
	for _, name := range []string{"k", "key"} {
		fs.StringVar(&o.key, name, "", "hub API key")
	}
	for _, name := range []string{"a", "address"} {
		fs.StringVar(&o.address, name, "", "hub IP address")
	}
	for _, name := range []string{"i", "interval"} {
		fs.StringVar(&o.interval, name, "1.0", "hub polling interval in seconds")
	}
	for _, name := range []string{"m", "maxrecon"} {
		fs.IntVar(&o.maxRecon, name, 100, "maximum number of restarts")
	}
	for _, name := range []string{"r", "recontime"} {
		fs.StringVar(&o.reconTime, name, "2", "first restart delay in seconds")
	}
	for _, name := range []string{"t", "type"} {
		fs.Var(&o.types, name, "group or sensor type to monitor (repeatable)")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

func (o *cliOptions) given(names ...string) bool {
	for _, n := range names {
		if o.set[n] {
			return true
		}
	}
	return false
}

func (o *cliOptions) apply(cfg *config.Config) error {
	if o.given("l", "log") {
		cfg.Log.Level = o.level
	}
	if o.debug {
		cfg.Log.Level = "debug"
	}
	if o.given("f", "file") {
		cfg.Log.Output = o.file
	}
	if o.given("P", "port") {
		if o.port <= 0 || o.port > 65535 {
			return fmt.Errorf("invalid port %d", o.port)
		}
		cfg.Server.Addr = ":" + strconv.Itoa(o.port)
	}
	if o.given("k", "key") {
		cfg.Hub.Key = o.key
	}
	if o.given("a", "address") {
		cfg.Hub.Address = o.address
	}
	if o.given("i", "interval") {
		d, err := config.ParseSeconds(o.interval)
		if err != nil {
			return err
		}
		cfg.Hub.PollInterval = d
	}
	if o.given("m", "maxrecon") {
		cfg.Supervisor.MaxRestarts = o.maxRecon
	}
	if o.given("r", "recontime") {
		d, err := config.ParseSeconds(o.reconTime)
		if err != nil {
			return err
		}
		cfg.Supervisor.RestartDelay = d
	}
	if len(o.types) > 0 {
		cfg.Hub.DeviceTypes = append([]string(nil), o.types...)
	}
	return nil
}
