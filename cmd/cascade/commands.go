package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/internal/diagram"
	"github.com/rendis/cascade/internal/scheduler"
	"github.com/rendis/cascade/pkg/mcp"
	"github.com/rendis/cascade/pkg/schema"
)

func runServe(args []string) {
	cfg := loadConfig()
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.PollSpec, "poll-spec", cfg.PollSpec, "command poll cadence (cron spec or @every)")
	fs.StringVar(&cfg.DefinitionsDir, "definitions", cfg.DefinitionsDir, "directory of definition documents to register at startup")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "panel HTTP listen address")
	fs.BoolVar(&cfg.Panel, "panel", cfg.Panel, "serve the HTTP panel API")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fatalf("%v", err)
	}
	defer a.close()

	n, err := a.catalog.DefineDir(ctx, cfg.DefinitionsDir)
	if err != nil {
		fatalf("%v", err)
	}
	if n > 0 {
		a.logger.Info("definitions loaded", slog.Int("count", n), slog.String("dir", cfg.DefinitionsDir))
	}

	sched, err := scheduler.NewScheduler(a.store, a.executor, scheduler.Config{
		PollSpec: cfg.PollSpec,
		Logger:   a.logger,
	})
	if err != nil {
		fatalf("%v", err)
	}
	if err := sched.Start(ctx); err != nil {
		fatalf("%v", err)
	}
	defer func() { _ = sched.Stop() }()

	if cfg.Panel {
		stopPanel := a.startPanel(ctx, cfg.ListenAddr)
		defer stopPanel()
	}

	srv := mcp.NewCascadeServer(mcp.CascadeServerDeps{
		Executor:  a.executor,
		Store:     a.store,
		Catalog:   a.catalog,
		Scheduler: sched,
		Hub:       a.hub,
		Logger:    a.logger,
	})
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		a.logger.Error("mcp server stopped", slog.String("error", err.Error()))
	}
}

func runInstall(args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	dbPath := fs.String("db-path", "", "database path (default: ~/.cascade/cascade.db)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	pollSpec := fs.String("poll-spec", scheduler.DefaultPollSpec, "command poll cadence")
	defsDir := fs.String("definitions", "", "directory of definition documents")
	listenAddr := fs.String("listen-addr", ":4100", "panel HTTP listen address")
	panel := fs.Bool("panel", false, "serve the HTTP panel API")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	dir := cascadeDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fatalf("cannot create %s: %v", dir, err)
	}

	cfg := defaultConfig()
	cfg.LogLevel = *logLevel
	cfg.PollSpec = *pollSpec
	cfg.DefinitionsDir = *defsDir
	cfg.ListenAddr = *listenAddr
	cfg.Panel = *panel
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := scheduler.ValidatePollSpec(cfg.PollSpec); err != nil {
		fatalf("%v", err)
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fatalf("cannot write %s: %v", path, err)
	}
	fmt.Printf("Config written to %s\n", path)
}

func runDefine(args []string) {
	fs := flag.NewFlagSet("define", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fatalf("usage: cascade define <file>")
	}
	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		fatalf("%v", err)
	}
	defer a.close()

	wf, err := a.catalog.DefineFile(ctx, fs.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Defined %s v%d (%d steps)\n", wf.ID, wf.Version, len(wf.Steps))
}

func runStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	ver := fs.Int("version", 0, "definition version (default: latest)")
	dataJSON := fs.String("data", "", "initial instance data as a JSON object")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fatalf("usage: cascade start [-version N] [-data JSON] <definition-id>")
	}

	var data map[string]any
	if *dataJSON != "" {
		if err := json.Unmarshal([]byte(*dataJSON), &data); err != nil {
			fatalf("invalid -data: %v", err)
		}
	}

	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		fatalf("%v", err)
	}
	defer a.close()

	wf, err := a.executor.Start(ctx, fs.Arg(0), *ver, data)
	if err != nil {
		fatalf("%v", err)
	}
	printJSON(wf)
}

func runProcess(args []string) {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fatalf("usage: cascade process <workflow-id>")
	}

	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		fatalf("%v", err)
	}
	defer a.close()

	res, err := a.executor.Process(ctx, fs.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	printJSON(res)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func runDiagram(args []string) {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	format := fs.String("format", "ascii", "output format: ascii, mermaid or image")
	out := fs.String("out", "", "output file (required for image)")
	ver := fs.Int("version", 0, "definition version (default: latest)")
	instance := fs.Bool("instance", false, "treat the argument as a workflow id and overlay pointer status")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fatalf("usage: cascade diagram [-format F] [-out FILE] [-instance] <definition-id|workflow-id>")
	}
	if *format == "image" && *out == "" {
		fatalf("-out is required for image output")
	}

	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		fatalf("%v", err)
	}
	defer a.close()

	var (
		wf       *definition.Workflow
		pointers schema.PointerCollection
	)
	if *instance {
		inst, getErr := a.store.GetWorkflow(ctx, fs.Arg(0))
		if getErr != nil {
			fatalf("%v", getErr)
		}
		pointers = inst.ExecutionPointers
		wf, err = a.catalog.Get(ctx, inst.DefinitionID, inst.Version)
	} else {
		wf, err = a.catalog.Get(ctx, fs.Arg(0), *ver)
	}
	if err != nil {
		fatalf("%v", err)
	}

	model, err := diagram.Build(wf, pointers)
	if err != nil {
		fatalf("%v", err)
	}

	var output []byte
	switch *format {
	case "ascii":
		output = []byte(diagram.RenderASCII(model))
	case "mermaid":
		output = []byte(diagram.RenderMermaid(model))
	case "image":
		output, err = diagram.RenderImage(ctx, model)
		if err != nil {
			fatalf("%v", err)
		}
	default:
		fatalf("unknown format %q", *format)
	}

	if *out == "" {
		_, _ = os.Stdout.Write(output)
		return
	}
	if err := os.WriteFile(*out, output, 0o644); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Diagram written to %s\n", *out)
}
