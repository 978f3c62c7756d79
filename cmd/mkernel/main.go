// Command mkernel boots a kernel image described by a project file on the
// host, drives it from a wall-clock tick source and serves the monitor.
package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nashif/zephyr-sub001/kernel/hal"
	"github.com/nashif/zephyr-sub001/kernel/micro"
	"github.com/nashif/zephyr-sub001/kernel/monitor"
	"github.com/nashif/zephyr-sub001/kernel/sysgen"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

//go:embed demo.yaml
var demoProject []byte

type options struct {
	config   string
	listen   string
	hz       int
	ticks    uint64
	dump     string
	logLevel string
	logJSON  bool
	traceLen int
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "project file (default: bundled demo)")
	flag.StringVar(&opts.listen, "listen", "127.0.0.1:7070", "monitor listen address (empty disables)")
	flag.IntVar(&opts.hz, "hz", 100, "system tick rate")
	flag.Uint64Var(&opts.ticks, "ticks", 0, "stop after this many ticks (0 runs until interrupted)")
	flag.StringVar(&opts.dump, "dump", "", "write a brotli trace dump here on exit")
	flag.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	flag.BoolVar(&opts.logJSON, "log-json", false, "log as JSON")
	flag.IntVar(&opts.traceLen, "trace", 4096, "trace records kept for dumps")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "mkernel:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	level, err := utils.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	log := utils.NewLogger(utils.LoggerConfig{Level: level, Component: "mkernel", Output: os.Stderr, JSON: opts.logJSON})

	project, err := loadProject(opts.config)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	buf := monitor.NewTraceBuffer(opts.traceLen)
	base := micro.DefaultConfig()
	base.Logger = log
	base.IRQ = hal.NewSimController(64)
	base.Monitors = []micro.Monitor{buf}
	base.FatalHandler = func(err error) {
		log.Error("Kernel fatal error, stopping", utils.Err(err))
		cancel()
	}

	var sym *sysgen.Symbols
	k, sym, err := project.Build(demoEntries(&sym, log.Named("demo")), base)
	if err != nil {
		return err
	}
	metrics := monitor.NewMetrics(k)
	if err := k.AddMonitor(metrics); err != nil {
		return err
	}
	log.Info("Kernel image built",
		utils.String("project", project.Name),
		utils.Int("tasks", len(sym.Tasks)),
		utils.Int("semaphores", len(sym.Semaphores)),
		utils.Int("pipes", len(sym.Pipes)))

	shutdown := utils.NewGracefulShutdown(5*time.Second, log.Named("shutdown"))

	kernelDone := make(chan error, 1)
	go func() { kernelDone <- k.Run(ctx) }()
	shutdown.Register("kernel", func(sctx context.Context) error {
		select {
		case err := <-kernelDone:
			return err
		case <-sctx.Done():
			return sctx.Err()
		}
	})

	ticker := hal.NewTicker(opts.hz)
	go ticker.Run(ctx, opts.ticks)
	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		k.RunTicks(ctx, ticker)
	}()

	if opts.listen != "" {
		srv, err := monitor.NewServer(k, buf, metrics, monitor.ServerConfig{Logger: log.Named("monitor")})
		if err != nil {
			return err
		}
		ln, err := net.Listen("tcp", opts.listen)
		if err != nil {
			return utils.WrapErrorf(err, "listen on %s", opts.listen)
		}
		serveDone := make(chan error, 1)
		go func() { serveDone <- srv.Serve(ctx, ln) }()
		shutdown.Register("monitor", func(sctx context.Context) error {
			select {
			case err := <-serveDone:
				return err
			case <-sctx.Done():
				return sctx.Err()
			}
		})
	}

	if opts.dump != "" {
		shutdown.Register("trace-dump", func(context.Context) error {
			return writeDump(opts.dump, buf, log)
		})
	}

	select {
	case <-ctx.Done():
	case <-tickDone:
		log.Info("Tick budget spent", utils.Uint64("ticks", k.Stats().Ticks))
	}
	cancel()

	stats := k.Stats()
	log.Info("Stopping kernel",
		utils.Uint64("ticks", stats.Ticks),
		utils.Uint64("idle_ticks", stats.IdleTicks),
		utils.Uint64("switches", stats.ContextSwitches),
		utils.Uint64("dispatched", stats.Dispatched))
	return shutdown.Shutdown(context.Background())
}

func loadProject(path string) (*sysgen.Project, error) {
	if path == "" {
		return sysgen.Parse(demoProject)
	}
	return sysgen.Load(path)
}

func writeDump(path string, buf *monitor.TraceBuffer, log *utils.Logger) error {
	f, err := os.Create(path)
	if err != nil {
		return utils.WrapErrorf(err, "create trace dump %s", path)
	}
	n, err := buf.WriteCompressed(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return utils.WrapErrorf(err, "write trace dump %s", path)
	}
	log.Info("Trace dump written",
		utils.String("path", path),
		utils.Int("records", buf.Len()),
		utils.Int("bytes", n),
		utils.Uint64("dropped", buf.Dropped()))
	return nil
}
