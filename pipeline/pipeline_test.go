package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"appraisalflow/discover"
	"appraisalflow/extract"
	"appraisalflow/portal"
)

type fakeNavigator struct {
	loans []string

	authErr  error
	queueErr error

	authCalls  int
	queueCalls int
	advances   int
}

func (f *fakeNavigator) Authenticate(ctx context.Context, username, password string) error {
	f.authCalls++
	return f.authErr
}

func (f *fakeNavigator) EnterWorkQueue(ctx context.Context) error {
	f.queueCalls++
	return f.queueErr
}

func (f *fakeNavigator) NextUnprocessedLoan(ctx context.Context, exclude map[string]struct{}) (*portal.LoanRecord, error) {
	for _, id := range f.loans {
		if _, done := exclude[id]; !done {
			return &portal.LoanRecord{ID: id}, nil
		}
	}
	return nil, nil
}

func (f *fakeNavigator) AdvanceNext(ctx context.Context) bool {
	f.advances++
	return true
}

type fakeDiscoverer struct {
	docs map[string][]discover.DocumentHandle
	errs map[string]error
}

func (f *fakeDiscoverer) ExtractDocumentsForLoan(ctx context.Context, loanID string) ([]discover.DocumentHandle, error) {
	if err := f.errs[loanID]; err != nil {
		return nil, err
	}
	return f.docs[loanID], nil
}

type fakeTextExtractor struct {
	texts map[string]string
	errs  map[string]error
}

func (f *fakeTextExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	if err := f.errs[path]; err != nil {
		return "", err
	}
	return f.texts[path], nil
}

type fakeStructuredExtractor struct {
	results map[string]*extract.Result
}

func (f *fakeStructuredExtractor) ExtractStructured(ctx context.Context, text, filename string) *extract.Result {
	if res, ok := f.results[filename]; ok {
		return res
	}
	return &extract.Result{Fields: map[string]any{"Filename": filename}}
}

type fakeStore struct {
	processed map[string]struct{}

	docErr error
	resErr error

	docUploads     []string
	resultUploads  []string
	summaryUploads []string
}

func (f *fakeStore) ProcessedLoanIDs(ctx context.Context) map[string]struct{} {
	out := make(map[string]struct{}, len(f.processed))
	for id := range f.processed {
		out[id] = struct{}{}
	}
	return out
}

func (f *fakeStore) UploadDocument(ctx context.Context, localPath, loanID, filename string) error {
	if f.docErr != nil {
		return f.docErr
	}
	f.docUploads = append(f.docUploads, loanID+"/"+filename)
	return nil
}

func (f *fakeStore) UploadExtractionResults(ctx context.Context, loanID string, fields map[string]any) error {
	if f.resErr != nil {
		return f.resErr
	}
	f.resultUploads = append(f.resultUploads, loanID)
	return nil
}

func (f *fakeStore) UploadSummary(ctx context.Context, filename, localPath string) error {
	f.summaryUploads = append(f.summaryUploads, filename)
	return nil
}

type fakeLedger struct {
	ids    map[string]struct{}
	marked []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{ids: make(map[string]struct{})}
}

func (f *fakeLedger) ProcessedIDs() (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(f.ids))
	for id := range f.ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeLedger) MarkProcessed(loanID string) error {
	f.ids[loanID] = struct{}{}
	f.marked = append(f.marked, loanID)
	return nil
}

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time        { return c.now }
func (c *stubClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func handle(loanID, filename string) discover.DocumentHandle {
	return discover.DocumentHandle{
		LoanID:    loanID,
		Filename:  filename,
		SavedName: filename,
		LocalPath: "/downloads/" + filename,
	}
}

func newTestPipeline(nav *fakeNavigator, disc *fakeDiscoverer, text *fakeTextExtractor,
	llm *fakeStructuredExtractor, store *fakeStore, ledger Ledger, opts Options) *Pipeline {
	if opts.SummaryDir == "" {
		opts.SummaryDir = "."
	}
	return New(nav, disc, text, llm, store, ledger,
		&stubClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}, zap.NewNop(), opts)
}

func TestRunProcessesOneLoan(t *testing.T) {
	nav := &fakeNavigator{loans: []string{"1000123"}}
	disc := &fakeDiscoverer{docs: map[string][]discover.DocumentHandle{
		"1000123": {handle("1000123", "appraisal.pdf")},
	}}
	text := &fakeTextExtractor{texts: map[string]string{
		"/downloads/appraisal.pdf": "subject property at 1 Main St",
	}}
	llm := &fakeStructuredExtractor{}
	store := &fakeStore{}
	ledger := newFakeLedger()

	p := newTestPipeline(nav, disc, text, llm, store, ledger, Options{SummaryDir: t.TempDir()})
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Discovered != 1 || summary.Processed != 1 || summary.Succeeded != 1 || summary.Failed != 0 {
		t.Errorf("counters = discovered %d processed %d succeeded %d failed %d",
			summary.Discovered, summary.Processed, summary.Succeeded, summary.Failed)
	}
	if len(store.docUploads) != 1 || store.docUploads[0] != "1000123/appraisal.pdf" {
		t.Errorf("document uploads = %v", store.docUploads)
	}
	if len(store.resultUploads) != 1 || store.resultUploads[0] != "1000123" {
		t.Errorf("extraction result uploads = %v", store.resultUploads)
	}
	if len(store.summaryUploads) != 1 {
		t.Errorf("summary uploads = %v", store.summaryUploads)
	}
	if len(ledger.marked) != 1 || ledger.marked[0] != "1000123" {
		t.Errorf("ledger marks = %v", ledger.marked)
	}
	if p.State() != StateDone {
		t.Errorf("final state = %v", p.State())
	}
	if summary.SuccessRate != "100.0%" {
		t.Errorf("success rate = %q", summary.SuccessRate)
	}
}

func TestRunSkipsProcessedLoans(t *testing.T) {
	nav := &fakeNavigator{loans: []string{"1000123", "1000456"}}
	disc := &fakeDiscoverer{docs: map[string][]discover.DocumentHandle{
		"1000123": {handle("1000123", "a.pdf")},
		"1000456": {handle("1000456", "b.pdf")},
	}}
	text := &fakeTextExtractor{texts: map[string]string{
		"/downloads/a.pdf": "text a",
		"/downloads/b.pdf": "text b",
	}}
	store := &fakeStore{processed: map[string]struct{}{"1000123": {}}}

	p := newTestPipeline(nav, disc, text, &fakeStructuredExtractor{}, store, newFakeLedger(),
		Options{SummaryDir: t.TempDir()})
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Processed != 1 {
		t.Fatalf("processed = %d, want 1", summary.Processed)
	}
	if summary.Results[0].LoanID != "1000456" {
		t.Errorf("processed loan = %s, want 1000456", summary.Results[0].LoanID)
	}
}

func TestRunIsIdempotentWhenAllProcessed(t *testing.T) {
	nav := &fakeNavigator{loans: []string{"1000123", "1000456"}}
	store := &fakeStore{processed: map[string]struct{}{
		"1000123": {},
		"1000456": {},
	}}

	p := newTestPipeline(nav, &fakeDiscoverer{}, &fakeTextExtractor{}, &fakeStructuredExtractor{},
		store, newFakeLedger(), Options{SummaryDir: t.TempDir()})
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Discovered != 0 || summary.Processed != 0 {
		t.Errorf("repeat run should process nothing, got discovered %d processed %d",
			summary.Discovered, summary.Processed)
	}
	if len(store.docUploads) != 0 {
		t.Errorf("repeat run should upload nothing, got %v", store.docUploads)
	}
}

func TestRunResumesAcrossRuns(t *testing.T) {
	// A loan cap of one leaves the second loan for the next run. The
	// shared ledger carries the first loan's completion across runs even
	// though the fake store never records it.
	disc := &fakeDiscoverer{docs: map[string][]discover.DocumentHandle{
		"1000123": {handle("1000123", "a.pdf")},
		"1000456": {handle("1000456", "b.pdf")},
	}}
	text := &fakeTextExtractor{texts: map[string]string{
		"/downloads/a.pdf": "text a",
		"/downloads/b.pdf": "text b",
	}}
	ledger := newFakeLedger()
	opts := Options{MaxLoans: 1, SummaryDir: t.TempDir()}

	first := newTestPipeline(&fakeNavigator{loans: []string{"1000123", "1000456"}},
		disc, text, &fakeStructuredExtractor{}, &fakeStore{}, ledger, opts)
	summary, err := first.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if summary.Processed != 1 || summary.Results[0].LoanID != "1000123" {
		t.Fatalf("first run processed %v", summary.Results)
	}

	second := newTestPipeline(&fakeNavigator{loans: []string{"1000123", "1000456"}},
		disc, text, &fakeStructuredExtractor{}, &fakeStore{}, ledger, opts)
	summary, err = second.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Processed != 1 || summary.Results[0].LoanID != "1000456" {
		t.Fatalf("second run processed %v", summary.Results)
	}
}

func TestRunRecordsDocumentFailures(t *testing.T) {
	nav := &fakeNavigator{loans: []string{"1000123"}}
	disc := &fakeDiscoverer{docs: map[string][]discover.DocumentHandle{
		"1000123": {
			handle("1000123", "good.pdf"),
			handle("1000123", "empty.pdf"),
			handle("1000123", "broken.pdf"),
		},
	}}
	text := &fakeTextExtractor{
		texts: map[string]string{
			"/downloads/good.pdf":  "readable content",
			"/downloads/empty.pdf": "",
		},
		errs: map[string]error{
			"/downloads/broken.pdf": errors.New("malformed xref table"),
		},
	}

	p := newTestPipeline(nav, disc, text, &fakeStructuredExtractor{}, &fakeStore{}, newFakeLedger(),
		Options{SummaryDir: t.TempDir()})
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Processed != 3 || summary.Succeeded != 1 || summary.Failed != 2 {
		t.Fatalf("counters = processed %d succeeded %d failed %d",
			summary.Processed, summary.Succeeded, summary.Failed)
	}
	if summary.Results[1].Error != "no text extracted from document" {
		t.Errorf("empty document error = %q", summary.Results[1].Error)
	}
	if summary.Results[2].Error != "text extraction failed: malformed xref table" {
		t.Errorf("broken document error = %q", summary.Results[2].Error)
	}
	if summary.SuccessRate != "33.3%" {
		t.Errorf("success rate = %q", summary.SuccessRate)
	}
}

func TestRunUploadFailureIsAdvisory(t *testing.T) {
	nav := &fakeNavigator{loans: []string{"1000123"}}
	disc := &fakeDiscoverer{docs: map[string][]discover.DocumentHandle{
		"1000123": {handle("1000123", "a.pdf")},
	}}
	text := &fakeTextExtractor{texts: map[string]string{"/downloads/a.pdf": "text"}}
	store := &fakeStore{docErr: errors.New("connection refused")}
	ledger := newFakeLedger()

	p := newTestPipeline(nav, disc, text, &fakeStructuredExtractor{}, store, ledger,
		Options{SummaryDir: t.TempDir()})
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Succeeded != 1 {
		t.Errorf("upload failure must not fail the document, succeeded = %d", summary.Succeeded)
	}
	// The extraction results upload still went through, so the ledger
	// records the loan.
	if len(ledger.marked) != 1 {
		t.Errorf("ledger marks = %v", ledger.marked)
	}
}

func TestRunSkipsLedgerWhenNoUploadSucceeds(t *testing.T) {
	nav := &fakeNavigator{loans: []string{"1000123"}}
	disc := &fakeDiscoverer{docs: map[string][]discover.DocumentHandle{
		"1000123": {handle("1000123", "a.pdf")},
	}}
	text := &fakeTextExtractor{texts: map[string]string{"/downloads/a.pdf": "text"}}
	store := &fakeStore{
		docErr: errors.New("connection refused"),
		resErr: errors.New("connection refused"),
	}
	ledger := newFakeLedger()

	p := newTestPipeline(nav, disc, text, &fakeStructuredExtractor{}, store, ledger,
		Options{SummaryDir: t.TempDir()})
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(ledger.marked) != 0 {
		t.Errorf("nothing persisted, ledger should be empty: %v", ledger.marked)
	}
}

func TestRunAuthFailureStopsEverything(t *testing.T) {
	nav := &fakeNavigator{authErr: errors.New("bad credentials")}
	store := &fakeStore{}

	p := newTestPipeline(nav, &fakeDiscoverer{}, &fakeTextExtractor{}, &fakeStructuredExtractor{},
		store, newFakeLedger(), Options{SummaryDir: t.TempDir()})
	_, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if p.State() != StateFailed {
		t.Errorf("state = %v, want failed", p.State())
	}
	if nav.queueCalls != 0 {
		t.Error("work queue navigation should not run after failed auth")
	}
	if len(store.summaryUploads) != 0 {
		t.Error("no summary should be persisted for a failed run")
	}
}

func TestRunRecoversFromDocumentPanic(t *testing.T) {
	nav := &fakeNavigator{loans: []string{"1000123"}}
	disc := &fakeDiscoverer{docs: map[string][]discover.DocumentHandle{
		"1000123": {handle("1000123", "a.pdf"), handle("1000123", "b.pdf")},
	}}
	text := &fakeTextExtractor{texts: map[string]string{
		"/downloads/a.pdf": "text a",
		"/downloads/b.pdf": "text b",
	}}
	llm := &fakeStructuredExtractor{results: map[string]*extract.Result{
		"a.pdf": nil, // nil result panics in the caller
	}}

	p := newTestPipeline(nav, disc, text, llm, &fakeStore{}, newFakeLedger(),
		Options{SummaryDir: t.TempDir()})
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Failed != 1 || summary.Succeeded != 1 {
		t.Fatalf("counters = succeeded %d failed %d", summary.Succeeded, summary.Failed)
	}
	if summary.Results[0].Error == "" {
		t.Error("panicked document should carry an error")
	}
}

func TestDiscoverDocumentsContinuesPastLoanFailure(t *testing.T) {
	nav := &fakeNavigator{loans: []string{"1000123", "1000456"}}
	disc := &fakeDiscoverer{
		docs: map[string][]discover.DocumentHandle{
			"1000456": {handle("1000456", "b.pdf")},
		},
		errs: map[string]error{
			"1000123": errors.New("attachments view did not load"),
		},
	}
	text := &fakeTextExtractor{texts: map[string]string{"/downloads/b.pdf": "text"}}

	p := newTestPipeline(nav, disc, text, &fakeStructuredExtractor{}, &fakeStore{}, newFakeLedger(),
		Options{SummaryDir: t.TempDir()})
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Discovered != 1 || summary.Results[0].LoanID != "1000456" {
		t.Errorf("discovery should continue past the failed loan: %+v", summary.Results)
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateInit:       "init",
		StateProcessing: "processing",
		StateDone:       "done",
		StateFailed:     "failed",
		State(99):       "unknown",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestSummaryFinalize(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newSummary(start)
	s.Processed = 4
	s.Succeeded = 3
	s.Failed = 1
	s.finalize(start.Add(90 * time.Second))

	if s.Elapsed != "1m30s" {
		t.Errorf("elapsed = %q", s.Elapsed)
	}
	if s.SuccessRate != "75.0%" {
		t.Errorf("success rate = %q", s.SuccessRate)
	}
	if s.RunID == "" {
		t.Error("run id must be set")
	}

	// Zero processed documents must not divide by zero.
	empty := newSummary(start)
	empty.finalize(start)
	if empty.SuccessRate != "0.0%" {
		t.Errorf("empty run success rate = %q", empty.SuccessRate)
	}
}

func TestSummarySaveLocal(t *testing.T) {
	s := newSummary(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s.finalize(time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC))

	filename, path, err := s.saveLocal(t.TempDir())
	if err != nil {
		t.Fatalf("saveLocal: %v", err)
	}
	want := "appraisal_processing_summary_20260301_090500.json"
	if filename != want {
		t.Errorf("filename = %q, want %q", filename, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("summary file not written: %v", err)
	}
}
