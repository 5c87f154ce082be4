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
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/PhucNguyen204/netwatch/internal/alert"
	"github.com/PhucNguyen204/netwatch/internal/app"
	"github.com/PhucNguyen204/netwatch/internal/config"
	"github.com/PhucNguyen204/netwatch/internal/history"
	"github.com/PhucNguyen204/netwatch/internal/logging"
	"github.com/PhucNguyen204/netwatch/internal/rules"
)

const usage = `usage: netwatch <command> [flags]

commands:
  scan                 run one scan and print the results
  serve                run the API and periodic scans
  rules check <path>   validate a rule file or a directory of rule files
  history export       write the scan history as json or csv
  service <action>     install | uninstall | start | stop | run
`

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var defaultConfigPath = getenv("NETWATCH_CONFIG", "netwatch.yaml")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "scan":
		err = runScan(ctx, os.Args[2:])
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "rules":
		err = runRules(os.Args[2:])
	case "history":
		err = runHistory(ctx, os.Args[2:])
	case "service":
		err = runService(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		logrus.WithError(err).Error("netwatch failed")
		os.Exit(1)
	}
}

func openStore(path string) (*config.Store, error) {
	store, err := config.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg := store.Current()
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return store, nil
}

func runScan(ctx context.Context, args []string) error {
	fs := newFlagSet("scan")
	cfgPath := fs.String("config", defaultConfigPath, "config file")
	test := fs.Bool("test", false, "scan the built-in test fixtures instead of live connections")
	asJSON := fs.Bool("json", false, "print results as JSON")
	fs.Parse(args)

	store, err := openStore(*cfgPath)
	if err != nil {
		return err
	}
	opts := app.Options{}
	if *asJSON {
		// keep stdout parseable
		opts.Alerter = alert.NewWriter(os.Stderr, logging.Component("alert"))
	}
	a, err := app.New(ctx, store, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	mode := ""
	if *test {
		mode = config.ModeTest
	}
	results, err := a.Scanner().Scan(ctx, mode)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	printTable(os.Stdout, results)
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := newFlagSet("serve")
	cfgPath := fs.String("config", defaultConfigPath, "config file")
	fs.Parse(args)
	return serve(ctx, *cfgPath)
}

func serve(ctx context.Context, cfgPath string) error {
	store, err := openStore(cfgPath)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, store, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}

func runRules(args []string) error {
	if len(args) != 2 || args[0] != "check" {
		return errors.New("usage: netwatch rules check <file|dir>")
	}
	reports, err := rules.Check(args[1])
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range reports {
		if !r.OK() {
			failed++
			fmt.Printf("FAIL %s: %v\n", r.Path, r.Err)
			continue
		}
		fmt.Printf("ok   %s: %d rules, %d datasets\n", r.Path, r.Rules, r.Datasets)
		for _, m := range r.Missing {
			fmt.Printf("     warning: dataset %q is referenced but not defined\n", m)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rule files failed", failed, len(reports))
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "export" {
		return errors.New("usage: netwatch history export [-format json|csv] [-o file]")
	}
	fs := newFlagSet("history export")
	cfgPath := fs.String("config", defaultConfigPath, "config file")
	format := fs.String("format", history.FormatJSON, "json or csv")
	out := fs.String("o", "", "output file (default stdout)")
	fs.Parse(args[1:])

	store, err := openStore(*cfgPath)
	if err != nil {
		return err
	}
	cfg := store.Current()
	h, err := history.Open(ctx, cfg.History, cfg.MaxHistorySizeMB)
	if err != nil {
		return err
	}
	defer h.Close()
	entries, err := h.List(ctx, 0)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return history.Export(w, entries, *format)
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}
