package portal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Browser owns one Chrome session for the lifetime of a pipeline run.
// Start acquires it, Close releases it; both are explicit so the
// orchestrator can guarantee release on every exit path.
type Browser struct {
	logger      *zap.Logger
	headless    bool
	downloadDir string

	taskCtx     context.Context
	taskCancel  context.CancelFunc
	allocCancel context.CancelFunc
}

func NewBrowser(logger *zap.Logger, headless bool, downloadDir string) *Browser {
	return &Browser{
		logger:      logger,
		headless:    headless,
		downloadDir: downloadDir,
	}
}

// Start launches Chrome and routes downloads into the watched directory.
func (b *Browser) Start(ctx context.Context) (context.Context, error) {
	if err := os.MkdirAll(b.downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("create download dir %s: %w", b.downloadDir, err)
	}

	absDir, err := filepath.Abs(b.downloadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve download dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	)
	if b.headless {
		b.logger.Info("running in headless mode")
	} else {
		b.logger.Info("running with GUI")
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	err = chromedp.Run(taskCtx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(absDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		taskCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	b.taskCtx = taskCtx
	b.taskCancel = taskCancel
	b.allocCancel = allocCancel
	b.logger.Info("browser started", zap.String("download_dir", absDir))
	return taskCtx, nil
}

// Close releases the Chrome session. Safe to call when Start failed.
func (b *Browser) Close() {
	if b.taskCancel != nil {
		b.taskCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.taskCtx = nil
	b.logger.Info("browser closed")
}

// DownloadDir returns the directory Chrome saves downloads into.
func (b *Browser) DownloadDir() string { return b.downloadDir }
