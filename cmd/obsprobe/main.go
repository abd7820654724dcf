// obsprobe checks that obsrelay can reach OBS with the configured
// connection settings. It lists every audio input and, with --exercise,
// drives a volume change and a mute toggle on the first one.
//
// Exit status is 0 when every step succeeds and 1 otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/obsrelay/internal/bridge"
	"github.com/nerrad567/obsrelay/internal/infrastructure/config"
	"github.com/nerrad567/obsrelay/internal/infrastructure/logging"
	"github.com/nerrad567/obsrelay/internal/obsws"
)

// exerciseVolumeDb is the level applied to the first input by --exercise.
const exerciseVolumeDb = -10.0

// options holds the parsed command line.
type options struct {
	configPath string
	host       string
	port       int
	password   string
	exercise   bool
	timeout    time.Duration
	verbose    bool
}

// controller is the part of the bridge the probe drives.
type controller interface {
	Enumerate(ctx context.Context) ([]bridge.InputDevice, error)
	Toggle(ctx context.Context, name string) bool
	SetVolume(ctx context.Context, name string, db float64) bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, connects and probes. It returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	log := logging.NewWithWriter(stderr, config.LoggingConfig{Level: level, Format: "text"}, "probe")

	client := obsws.New(obsws.Config{
		Host:           cfg.OBS.Host,
		Port:           cfg.OBS.Port,
		Password:       cfg.OBS.Password,
		TLS:            cfg.OBS.TLS,
		ConnectTimeout: cfg.OBS.ConnectTimeout,
		RequestTimeout: cfg.OBS.RequestTimeout,
	})
	client.SetLogger(log)

	b, err := bridge.New(bridge.Options{Link: client, Logger: log})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := b.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer b.Stop()

	fmt.Fprintf(stdout, "Connecting to OBS at %s\n", cfg.OBSAddress())

	ctx, cancel := context.WithTimeout(bridge.WithSource(ctx, bridge.SourceProbe), opts.timeout)
	defer cancel()

	if !probe(ctx, b, stdout, opts.exercise) {
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("obsprobe", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file (defaults apply when omitted)")
	fs.StringVar(&opts.host, "host", "", "override obs.host")
	fs.IntVar(&opts.port, "port", 0, "override obs.port")
	fs.StringVar(&opts.password, "password", "", "override obs.password")
	fs.BoolVar(&opts.exercise, "exercise", false, "set the first input to -10 dB and toggle its mute")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline for the probe")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log protocol traffic")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.timeout <= 0 {
		return options{}, fmt.Errorf("--timeout must be positive")
	}
	return opts, nil
}

// loadConfig reads the config file when one is named, otherwise the
// defaults with environment overrides, then applies flag overrides.
func loadConfig(opts options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.LoadDefaults()
	}
	if err != nil {
		return nil, err
	}

	if opts.host != "" {
		cfg.OBS.Host = opts.host
	}
	if opts.port != 0 {
		cfg.OBS.Port = opts.port
	}
	if opts.password != "" {
		cfg.OBS.Password = opts.password
	}
	return cfg, nil
}

// probe enumerates the inputs and optionally exercises the first one.
// It reports whether every step passed.
func probe(ctx context.Context, c controller, out io.Writer, exercise bool) bool {
	devices, err := c.Enumerate(ctx)
	if err != nil {
		fmt.Fprintf(out, "FAIL  enumerate: %s (%v)\n", bridge.ReasonOf(err), err)
		return false
	}
	fmt.Fprintf(out, "PASS  enumerate: %d input(s)\n", len(devices))
	printDevices(out, devices)

	if !exercise {
		return true
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "FAIL  exercise: no inputs to exercise")
		return false
	}

	name := devices[0].Name
	ok := true
	ok = report(out, "set volume", fmt.Sprintf("%s to %s dB", name, strconv.FormatFloat(exerciseVolumeDb, 'f', -1, 64)),
		c.SetVolume(ctx, name, exerciseVolumeDb)) && ok
	ok = report(out, "toggle mute", name, c.Toggle(ctx, name)) && ok
	return ok
}

func report(out io.Writer, step, detail string, passed bool) bool {
	status := "PASS"
	if !passed {
		status = "FAIL"
	}
	fmt.Fprintf(out, "%s  %s: %s\n", status, step, detail)
	return passed
}

func printDevices(out io.Writer, devices []bridge.InputDevice) {
	if len(devices) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tVOLUME (dB)\tMUTED")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%t\n", d.Name, d.InputKind, d.VolumeDb, d.Muted)
	}
	tw.Flush() //nolint:errcheck // Writes to the caller's writer
}
