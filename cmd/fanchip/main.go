package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fanchip/internal/config"
	"fanchip/internal/web"
)

func main() {
	var configPath string
	var tracePath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.StringVar(&tracePath, "trace-summary", "", "Print a summary of an edge trace file and exit")
	flag.Parse()

	if tracePath != "" {
		if err := printTraceSummary(os.Stdout, tracePath); err != nil {
			log.Fatalf("trace summary failed: %v", err)
		}
		return
	}

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("fanchip starting mode=%s framebuffer=%dx%d report_interval=%s",
		cfg.Mode, cfg.Framebuffer.Width, cfg.Framebuffer.Height, cfg.Chip.ReportInterval)

	if err := run(ctx, cfg, logs); err != nil && ctx.Err() == nil {
		log.Fatalf("fanchip failed: %v", err)
	}
	log.Printf("fanchip stopping")
}
