package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mldownloader/internal/config"
	"mldownloader/internal/distribution"
	friendlyerrors "mldownloader/internal/errors"
	"mldownloader/internal/logging"
)

var version = "dev"

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", friendlyerrors.Explain(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("no command provided")
	}
	distribution.Version = version
	cmd := args[0]
	switch cmd {
	case "config":
		return handleConfig(ctx, args[1:])
	case "download":
		return handleDownload(ctx, args[1:])
	case "delete":
		return handleDelete(ctx, args[1:])
	case "list":
		return handleList(ctx, args[1:])
	case "verify":
		return handleVerify(ctx, args[1:])
	case "version":
		fmt.Fprintln(stdout, version)
		return nil
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func usage() {
	fmt.Fprintln(stdout, strings.TrimSpace(`mldownloader - download, run and manage hosted ML models

Usage:
  mldownloader <command> [flags]

Commands:
  download          Download a model (--name, --policy local|background|latest) and run the sample input through it
  delete            Delete a downloaded model (--name)
  list              List models on this device (--match for a fuzzy filter)
  verify            Re-hash downloaded models against the registry
  config validate   Validate a YAML config file
  config print      Print the loaded config as JSON
  version           Print version
  help              Show this help

Flags:
  --config PATH     Path to YAML config file (or MLDOWNLOADER_CONFIG env var; default: ~/.config/mldownloader/config.yml)
  --log-level L     Log level: debug|info|warn|error (per command)
  --json            JSON output (per command)
`))
}

// commonFlags registers the flags every command shares.
type commonFlags struct {
	cfgPath  *string
	logLevel *string
	jsonOut  *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		cfgPath:  fs.String("config", "", "Path to YAML config file"),
		logLevel: fs.String("log-level", "", "log level (default: config logging.level or info)"),
		jsonOut:  fs.Bool("json", false, "json output"),
	}
}

func (f commonFlags) load() (*config.Config, *logging.Logger, error) {
	path := *f.cfgPath
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("config file not found: %s", path)
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, nil, friendlyerrors.ConfigError(path, err)
	}
	level := *f.logLevel
	if level == "" {
		level = c.Logging.Level
	}
	jsonLogs := *f.jsonOut || strings.EqualFold(c.Logging.Format, "json")
	// JSON results go to stdout, so logs stay on stderr.
	return c, logging.NewWriter(level, jsonLogs, os.Stderr), nil
}

func handleConfig(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("config subcommand required: validate | print")
	}
	fs := flag.NewFlagSet("config "+args[0], flag.ContinueOnError)
	cf := addCommonFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	switch args[0] {
	case "validate":
		c, log, err := cf.load()
		if err != nil {
			return err
		}
		if issues := c.ValidateDetailed(); len(issues) > 0 {
			fmt.Fprint(stdout, config.FormatValidationErrors(issues))
			log.Warnf("config: valid with %d warning(s)", len(issues))
			return nil
		}
		log.Infof("config: valid")
		return nil
	case "print":
		c, _, err := cf.load()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	default:
		return fmt.Errorf("unknown config subcommand: %s", args[0])
	}
}
