package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/config"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/server"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/marketwire/internal/transport/client"
	"github.com/GriffinCanCode/marketwire/internal/transport/fault"
	"github.com/GriffinCanCode/marketwire/internal/transport/pool"
	"github.com/GriffinCanCode/marketwire/internal/transport/request"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "marketwire:", err)
		os.Exit(1)
	}
}

// headerFlags collects repeated -H "Name: value" flags.
type headerFlags map[string]string

func (h headerFlags) String() string { return fmt.Sprint(map[string]string(h)) }

func (h headerFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header %q must be Name: value", v)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

// summary is what the command prints for a completed call.
type summary struct {
	Status    int               `json:"status"`
	Reason    string            `json:"reason"`
	Protocol  string            `json:"protocol"`
	Charset   string            `json:"charset"`
	Bytes     int64             `json:"bytes"`
	Truncated bool              `json:"truncated"`
	Redirects []string          `json:"redirects"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body,omitempty"`
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("marketwire", flag.ContinueOnError)
	method := fs.String("X", "GET", "HTTP method")
	configPath := fs.String("config", "", "YAML or TOML config file (defaults to environment)")
	data := fs.String("d", "", "request body")
	dataFile := fs.String("data-file", "", "send a file as the request body")
	contentType := fs.String("content-type", "", "body content type")
	adminAddr := fs.String("admin", "", "serve the admin listener on this address until interrupted")
	showBody := fs.Bool("body", true, "include the decoded body in the output")
	headers := headerFlags{}
	fs.Var(headers, "H", "request header, repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: marketwire [flags] URL")
	}
	if *data != "" && *dataFile != "" {
		return errors.New("-d and -data-file are mutually exclusive")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *adminAddr != "" {
		cfg.Admin.Address = *adminAddr
	}

	logger := logging.FromConfig(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	tracer := tracing.New("marketwire", logger)
	defer tracer.Close()

	p := pool.New(pool.SettingsFrom(cfg.Pool, cfg.Client.AllowUntrustedSSL), logger, metrics)
	if err := p.Start(); err != nil {
		return err
	}
	defer func() {
		if err := p.Shutdown(); err != nil && !pool.IsClosed(err) {
			logger.Warn("Pool shutdown failed", zap.Error(err))
		}
	}()

	c, err := client.New(client.Options{
		Client:  cfg.Client,
		Robots:  cfg.Robots,
		Breaker: cfg.Breaker,
		Pool:    p,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	var admin *server.Server
	if cfg.Admin.Address != "" {
		admin = server.New(cfg.Admin, server.Deps{
			Pool:     p,
			Client:   c,
			Metrics:  metrics,
			Gatherer: reg,
			Tracer:   tracer,
			Logger:   logger,
		})
		go func() {
			if err := admin.Run(); err != nil {
				logger.Error("Admin server failed", zap.Error(err))
			}
		}()
	}

	resp, err := c.Execute(ctx, *method, fs.Arg(0), headers, body(*data, *dataFile, *contentType))
	if err != nil {
		return fmt.Errorf("%s: %w", fault.Name(err), err)
	}

	out := summary{
		Status:    resp.StatusCode(),
		Reason:    resp.Reason(),
		Protocol:  resp.Protocol(),
		Charset:   resp.Charset(),
		Bytes:     resp.ContentLength(),
		Truncated: resp.Truncated(),
		Redirects: resp.RedirectChain(),
		Headers:   map[string]string{},
	}
	for _, h := range resp.Headers() {
		out.Headers[h.Name] = h.Value
	}
	if *showBody {
		text, err := resp.Text()
		if err != nil {
			return err
		}
		out.Body = text
	}

	encoded, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(stdout, string(encoded)); err != nil {
		return err
	}

	if admin != nil {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return admin.Shutdown(shutdownCtx)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func body(data, file, contentType string) request.Body {
	switch {
	case file != "":
		return request.FileBody{Path: file, ContentType: contentType}
	case data != "":
		return request.StringBody{Content: data, ContentType: contentType}
	default:
		return nil
	}
}
