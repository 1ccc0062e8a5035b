package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wudi/pdfdeck/config"
	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/loader"
	"github.com/wudi/pdfdeck/observability"
	"github.com/wudi/pdfdeck/ocr/tesseract"
	"github.com/wudi/pdfdeck/search"
	"github.com/wudi/pdfdeck/session"
	"github.com/wudi/pdfdeck/store"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"info", "[pdf...]", runInfo},
	{"render", "[flags] [pdf...]", runRender},
	{"search", "[flags] <query> [pdf...]", runSearch},
	{"toc", "[flags] [pdf...]", runTOC},
	{"recompose", "[flags] [pdf...]", runRecompose},
	{"session", "list|clear|restore", runSession},
}

type options struct {
	configPath string
	command    command
	args       []string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfdeck: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdfdeck: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage: pdfdeck [-config file] <command> ...\n\nCommands:\n")
		for _, c := range commands {
			fmt.Fprintf(out, "  %-10s %s\n", c.name, c.usage)
		}
		fmt.Fprintln(out, "\nWithout pdf arguments the stored session is used.")
		flag.PrintDefaults()
	}
	flag.StringVar(&opts.configPath, "config", "", "JSON config file")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return options{}, errors.New("missing command")
	}
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			opts.command = c
			opts.args = flag.Args()[1:]
			return opts, nil
		}
	}
	flag.Usage()
	return options{}, fmt.Errorf("unknown command %q", flag.Arg(0))
}

func run(opts options) error {
	cfg := config.Defaults()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadJSON(opts.configPath, nil); err != nil {
			return err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return opts.command.run(ctx, a, opts.args)
}

// app wires the session for one command.
type app struct {
	cfg    config.Config
	log    observability.Logger
	tracer observability.Tracer
	store  *store.BoltStore
	ctl    *session.Controller
}

func newApp(cfg config.Config) (*app, error) {
	log := observability.NewWriterLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	a := &app{cfg: cfg, log: log, tracer: observability.NewLogTracer(log)}

	engOpts := []engine.Option{engine.WithLogger(log), engine.WithTracer(a.tracer)}
	if cfg.OCR.Enabled {
		engOpts = append(engOpts, engine.WithOCR(tesseract.New(cfg.OCR.Languages...), cfg.OCR.Languages...))
	}
	searcher := search.New(
		search.WithLogger(log),
		search.WithTracer(a.tracer),
		search.WithConcurrency(cfg.Search.Concurrency),
		search.WithContext(cfg.Search.ContextRunes),
	)
	sessOpts := []session.Option{
		session.WithLogger(log),
		session.WithTracer(a.tracer),
		session.WithSearcher(searcher),
		session.WithCompileOptions(search.WithTimeout(cfg.Search.RegexTimeout.Duration)),
	}
	if !cfg.Store.Disabled {
		s, err := store.Open(cfg.Store.Path, store.WithLogger(log), store.WithTracer(a.tracer))
		if err != nil {
			// run without persistence
			log.Warn("session store unavailable", observability.String("path", cfg.Store.Path), observability.Error("error", err))
		} else {
			a.store = s
			sessOpts = append(sessOpts, session.WithStore(s))
		}
	}
	a.ctl = session.New(loader.New(engine.New(engOpts...), loader.WithLogger(log)), sessOpts...)
	return a, nil
}

func (a *app) close() {
	a.ctl.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store", observability.Error("error", err))
		}
	}
}

// open loads paths, or restores the stored session when there are none.
func (a *app) open(ctx context.Context, paths []string) (*session.State, error) {
	if len(paths) == 0 {
		if a.store == nil {
			return nil, errors.New("no pdf given and the store is disabled")
		}
		rep, err := a.ctl.Restore(ctx)
		if err != nil {
			return nil, fmt.Errorf("restore session: %w", err)
		}
		a.report(rep)
		return a.ctl.State(), nil
	}
	files := make([]loader.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, loader.File{Name: filepath.Base(p), Data: data, MIME: mime.TypeByExtension(filepath.Ext(p))})
	}
	rep, err := a.ctl.Load(ctx, files)
	a.report(rep)
	if err != nil {
		return nil, err
	}
	return a.ctl.State(), nil
}

func (a *app) report(rep session.Report) {
	for _, f := range rep.Failures {
		a.log.Warn("skipped file", observability.String("file", f.Name), observability.Error("error", f.Err))
	}
}

func emitSection(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	fmt.Printf("== %s ==\n%s\n\n", name, data)
	return nil
}

// parsePages reads a list such as "2,6,9-11".
func parsePages(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("bad page %q", part)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || to < from {
				return nil, fmt.Errorf("bad page range %q", part)
			}
		}
		for p := from; p <= to; p++ {
			out = append(out, p)
		}
	}
	return out, nil
}

func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func safeName(name string) string {
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
