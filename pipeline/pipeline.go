package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"appraisalflow/discover"
	"appraisalflow/extract"
	"appraisalflow/portal"
)

// State of the run. Transitions are strictly sequential and
// non-retrying: a step either advances or jumps to StateFailed and the
// remaining steps are skipped.
type State int

const (
	StateInit State = iota
	StateAuthenticated
	StateNavigated
	StateIndexLoaded
	StateDiscovering
	StateProcessing
	StateSummarizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAuthenticated:
		return "authenticated"
	case StateNavigated:
		return "navigated"
	case StateIndexLoaded:
		return "index_loaded"
	case StateDiscovering:
		return "discovering"
	case StateProcessing:
		return "processing"
	case StateSummarizing:
		return "summarizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Navigator interface {
	Authenticate(ctx context.Context, username, password string) error
	EnterWorkQueue(ctx context.Context) error
	NextUnprocessedLoan(ctx context.Context, exclude map[string]struct{}) (*portal.LoanRecord, error)
	AdvanceNext(ctx context.Context) bool
}

type Discoverer interface {
	ExtractDocumentsForLoan(ctx context.Context, loanID string) ([]discover.DocumentHandle, error)
}

type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

type StructuredExtractor interface {
	ExtractStructured(ctx context.Context, text, filename string) *extract.Result
}

type ObjectStore interface {
	ProcessedLoanIDs(ctx context.Context) map[string]struct{}
	UploadDocument(ctx context.Context, localPath, loanID, filename string) error
	UploadExtractionResults(ctx context.Context, loanID string, fields map[string]any) error
	UploadSummary(ctx context.Context, filename, localPath string) error
}

// Ledger is the local complement of the remote idempotency index.
type Ledger interface {
	ProcessedIDs() (map[string]struct{}, error)
	MarkProcessed(loanID string) error
}

type Options struct {
	Username   string
	Password   string
	MaxLoans   int // 0 = unlimited
	SummaryDir string
}

// Pipeline composes navigation, discovery, extraction and persistence
// into one resumable run.
type Pipeline struct {
	nav    Navigator
	disc   Discoverer
	text   TextExtractor
	llm    StructuredExtractor
	store  ObjectStore
	ledger Ledger
	clock  portal.Clock
	logger *zap.Logger
	opts   Options

	state State
}

func New(nav Navigator, disc Discoverer, text TextExtractor, llm StructuredExtractor,
	store ObjectStore, ledger Ledger, clock portal.Clock, logger *zap.Logger, opts Options) *Pipeline {
	if opts.SummaryDir == "" {
		opts.SummaryDir = "."
	}
	return &Pipeline{
		nav:    nav,
		disc:   disc,
		text:   text,
		llm:    llm,
		store:  store,
		ledger: ledger,
		clock:  clock,
		logger: logger,
		opts:   opts,
		state:  StateInit,
	}
}

// State returns the current run state.
func (p *Pipeline) State() State { return p.state }

// Run executes one complete pass: authenticate, enter the work queue,
// rebuild the processed index, discover and download documents, process
// them one at a time, then summarize. Resource teardown belongs to the
// caller's scope; Run only guarantees it never strands the state
// machine mid-step.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := p.clock.Now()
	summary := newSummary(start)
	p.logger.Info("starting appraisal pipeline", zap.String("run_id", summary.RunID))

	if err := p.nav.Authenticate(ctx, p.opts.Username, p.opts.Password); err != nil {
		p.setState(StateFailed)
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	p.setState(StateAuthenticated)

	if err := p.nav.EnterWorkQueue(ctx); err != nil {
		p.setState(StateFailed)
		return nil, fmt.Errorf("work queue navigation failed: %w", err)
	}
	p.setState(StateNavigated)

	processed := p.loadProcessedIndex(ctx)
	p.setState(StateIndexLoaded)

	p.setState(StateDiscovering)
	handles := p.discoverDocuments(ctx, processed)
	summary.Discovered = len(handles)
	p.logger.Info("discovery complete", zap.Int("documents", len(handles)))

	p.setState(StateProcessing)
	for i, handle := range handles {
		if ctx.Err() != nil {
			p.logger.Warn("run interrupted, skipping remaining documents",
				zap.Int("remaining", len(handles)-i))
			break
		}
		p.logger.Info("processing document",
			zap.Int("position", i+1),
			zap.Int("total", len(handles)),
			zap.String("filename", handle.Filename))
		summary.Results = append(summary.Results, p.processDocument(ctx, handle))
		summary.Processed++
		if summary.Results[len(summary.Results)-1].Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	p.setState(StateSummarizing)
	summary.finalize(p.clock.Now())
	p.persistSummary(ctx, summary)

	p.setState(StateDone)
	p.logger.Info("pipeline complete",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.String("success_rate", summary.SuccessRate))
	return summary, nil
}

// loadProcessedIndex merges the storage-derived index with the local
// ledger. Ledger unavailability is advisory.
func (p *Pipeline) loadProcessedIndex(ctx context.Context) map[string]struct{} {
	processed := p.store.ProcessedLoanIDs(ctx)
	if p.ledger == nil {
		return processed
	}
	local, err := p.ledger.ProcessedIDs()
	if err != nil {
		p.logger.Warn("local ledger unavailable", zap.Error(err))
		return processed
	}
	for id := range local {
		processed[id] = struct{}{}
	}
	return processed
}

// discoverDocuments walks the loan queue, collecting downloaded
// document handles until the queue or the loan cap is exhausted. Loans
// scanned this pass join the exclusion set so the rolling re-scan of
// the visible list never revisits them.
func (p *Pipeline) discoverDocuments(ctx context.Context, processed map[string]struct{}) []discover.DocumentHandle {
	var handles []discover.DocumentHandle
	scanned := 0

	for p.opts.MaxLoans == 0 || scanned < p.opts.MaxLoans {
		if ctx.Err() != nil {
			break
		}
		loan, err := p.nav.NextUnprocessedLoan(ctx, processed)
		if err != nil {
			p.logger.Warn("loan navigation failed, stopping discovery", zap.Error(err))
			break
		}
		if loan == nil {
			break
		}
		scanned++
		processed[loan.ID] = struct{}{}

		docs, err := p.disc.ExtractDocumentsForLoan(ctx, loan.ID)
		if err != nil {
			p.logger.Warn("document discovery failed for loan",
				zap.String("loan_id", loan.ID),
				zap.Error(err))
		}
		handles = append(handles, docs...)

		if !p.nav.AdvanceNext(ctx) {
			break
		}
	}
	return handles
}

// processDocument handles one document end to end. Any failure is
// recorded and the run continues; this is also the designated catch
// point for unexpected panics during a single document's processing.
func (p *Pipeline) processDocument(ctx context.Context, h discover.DocumentHandle) (result DocumentResult) {
	result = DocumentResult{
		LoanID:      h.LoanID,
		Filename:    h.Filename,
		ProcessedAt: p.clock.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("unexpected failure processing document",
				zap.String("filename", h.Filename),
				zap.Any("panic", r))
			result.Success = false
			result.Error = fmt.Sprintf("unexpected failure: %v", r)
		}
	}()

	text, err := p.text.ExtractText(ctx, h.LocalPath)
	if err != nil {
		result.Error = fmt.Sprintf("text extraction failed: %v", err)
		return result
	}
	if text == "" {
		result.Error = "no text extracted from document"
		return result
	}
	result.TextLength = len(text)

	res := p.llm.ExtractStructured(ctx, text, h.Filename)
	if !res.Succeeded() {
		result.Error = res.Err
		return result
	}

	docErr := p.store.UploadDocument(ctx, h.LocalPath, h.LoanID, h.Filename)
	if docErr != nil {
		p.logger.Warn("document upload failed",
			zap.String("filename", h.Filename),
			zap.Error(docErr))
	}
	resErr := p.store.UploadExtractionResults(ctx, h.LoanID, res.Fields)
	if resErr != nil {
		p.logger.Warn("extraction results upload failed",
			zap.String("loan_id", h.LoanID),
			zap.Error(resErr))
	}

	// The loan becomes durably "processed" with its first successful
	// upload; mirror that in the local ledger.
	if p.ledger != nil && (docErr == nil || resErr == nil) {
		if err := p.ledger.MarkProcessed(h.LoanID); err != nil {
			p.logger.Warn("ledger update failed",
				zap.String("loan_id", h.LoanID),
				zap.Error(err))
		}
	}

	result.Success = true
	result.Data = res.Fields
	return result
}

// persistSummary saves the summary locally and mirrors it to the store.
// Remote upload failure is advisory.
func (p *Pipeline) persistSummary(ctx context.Context, s *Summary) {
	filename, path, err := s.saveLocal(p.opts.SummaryDir)
	if err != nil {
		p.logger.Warn("saving summary locally failed", zap.Error(err))
		return
	}
	p.logger.Info("summary saved", zap.String("path", path))

	if err := p.store.UploadSummary(ctx, filename, path); err != nil {
		p.logger.Warn("summary upload failed", zap.Error(err))
	}
}

func (p *Pipeline) setState(s State) {
	p.logger.Debug("state transition",
		zap.Stringer("from", p.state),
		zap.Stringer("to", s))
	p.state = s
}
