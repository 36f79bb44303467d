package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"appraisalflow/config"
	"appraisalflow/discover"
	"appraisalflow/extract"
	"appraisalflow/journal"
	"appraisalflow/pipeline"
	"appraisalflow/portal"
	"appraisalflow/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	// =========
	// Config
	// =========
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	profile, err := config.LoadProfile(cfg.PortalProfilePath)
	if err != nil {
		log.Fatalf("Failed to load portal profile: %v", err)
	}

	// =========
	// Logging
	// =========
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	// =========
	// Interrupt handling
	// =========
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := portal.SystemClock{}

	// =========
	// Extraction
	// =========
	validator, err := extract.NewValidator()
	if err != nil {
		logger.Error("failed to build validator", zap.Error(err))
		return 1
	}
	completer := extract.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	engine := extract.NewEngine(completer, validator, logger)
	pdfText := extract.NewPDFTextExtractor(logger)

	// =========
	// Object storage
	// =========
	store, err := storage.New(ctx, cfg.MinioEndpoint, cfg.MinioRegion, cfg.MinioBucket,
		cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL, logger)
	if err != nil {
		logger.Error("failed to connect object store", zap.Error(err))
		return 1
	}

	// =========
	// Local ledger
	// =========
	ledger, err := journal.Open(cfg.JournalPath)
	if err != nil {
		logger.Error("failed to open journal", zap.Error(err))
		return 1
	}
	defer ledger.Close()

	// =========
	// Chromedp
	// =========
	browser := portal.NewBrowser(logger, cfg.Headless, cfg.DownloadDir)
	browserCtx, err := browser.Start(ctx)
	if err != nil {
		logger.Error("failed to start browser", zap.Error(err))
		return 1
	}
	defer browser.Close()

	navigator := portal.NewNavigator(profile, clock, logger)
	navigator.Bind(browserCtx)
	watcher := portal.NewDownloadWatcher(cfg.DownloadDir, clock, logger)

	// =========
	// Discovery
	// =========
	discoverer := discover.NewDiscoverer(navigator, watcher, clock, cfg.DownloadDir, logger)

	// =========
	// Pipeline
	// =========
	p := pipeline.New(navigator, discoverer, pdfText, engine, store, ledger, clock, logger,
		pipeline.Options{
			Username: cfg.PortalUsername,
			Password: cfg.PortalPassword,
			MaxLoans: cfg.MaxLoans,
		})

	summary, err := p.Run(ctx)
	if err != nil {
		logger.Error("pipeline failed", zap.Error(err))
		fmt.Printf("Pipeline failed: %v\n", err)
		return 1
	}

	fmt.Println("Pipeline completed")
	fmt.Printf("  documents discovered: %d\n", summary.Discovered)
	fmt.Printf("  documents processed:  %d\n", summary.Processed)
	fmt.Printf("  successful:           %d\n", summary.Succeeded)
	fmt.Printf("  failed:               %d\n", summary.Failed)
	fmt.Printf("  success rate:         %s\n", summary.SuccessRate)
	fmt.Printf("  total time:           %s\n", summary.Elapsed)
	return 0
}
