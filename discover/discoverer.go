package discover

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"appraisalflow/portal"
)

const (
	downloadTimeout = 15 * time.Second
	downloadSettle  = 2 * time.Second

	sectionTag = "Appraisal Report - Construction"
)

// DocumentHandle describes one confirmed appraisal download. It lives for
// a single pipeline run; only the extraction result derived from it is
// persisted.
type DocumentHandle struct {
	LoanID     string
	NeedID     string
	DocID      string
	Filename   string
	SavedName  string
	LocalPath  string
	Section    string
	Downloaded bool
}

// Portal is the slice of navigator behavior the discoverer drives.
type Portal interface {
	OpenAttachmentsView(ctx context.Context) error
	PageMarkup(ctx context.Context) (string, error)
	OpenDocsModal(ctx context.Context, needID, docID string) error
	ModalDocActions(ctx context.Context) ([]string, error)
	ClickModalDocAction(ctx context.Context, index int) error
	CloseModal(ctx context.Context)
}

// Watcher confirms that a triggered download materialized on disk.
type Watcher interface {
	Snapshot() map[string]struct{}
	AwaitNewFile(ctx context.Context, prior map[string]struct{}, timeout time.Duration) (string, bool)
}

// Discoverer classifies candidate rows on a loaded loan page and turns
// them into locally downloaded files.
type Discoverer struct {
	portal      Portal
	watcher     Watcher
	clock       portal.Clock
	downloadDir string
	logger      *zap.Logger
}

func NewDiscoverer(p Portal, w Watcher, clock portal.Clock, downloadDir string, logger *zap.Logger) *Discoverer {
	return &Discoverer{
		portal:      p,
		watcher:     w,
		clock:       clock,
		downloadDir: downloadDir,
		logger:      logger,
	}
}

// ExtractDocumentsForLoan opens the attachments view of the current loan,
// classifies its rows and downloads every confirmed appraisal document.
// Zero candidates is a normal outcome, not an error.
func (d *Discoverer) ExtractDocumentsForLoan(ctx context.Context, loanID string) ([]DocumentHandle, error) {
	if err := d.portal.OpenAttachmentsView(ctx); err != nil {
		return nil, err
	}
	markup, err := d.portal.PageMarkup(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := FindAppraisalRows(markup)
	if err != nil {
		return nil, err
	}
	d.logger.Info("classified appraisal rows",
		zap.String("loan_id", loanID),
		zap.Int("rows", len(rows)))

	var handles []DocumentHandle
	for _, row := range rows {
		needID, docID, ok := rowNeedDocsAction(row)
		if !ok {
			continue
		}
		handles = append(handles, d.downloadFromModal(ctx, loanID, needID, docID)...)
	}
	return handles, nil
}

func (d *Discoverer) downloadFromModal(ctx context.Context, loanID, needID, docID string) []DocumentHandle {
	if err := d.portal.OpenDocsModal(ctx, needID, docID); err != nil {
		d.logger.Warn("docs modal failed to open",
			zap.String("loan_id", loanID),
			zap.String("need_id", needID),
			zap.Error(err))
		return nil
	}
	defer d.portal.CloseModal(ctx)

	actions, err := d.portal.ModalDocActions(ctx)
	if err != nil {
		d.logger.Warn("listing modal documents failed",
			zap.String("loan_id", loanID),
			zap.Error(err))
		return nil
	}

	var handles []DocumentHandle
	for i, action := range actions {
		filename := DocActionFilename(action, i+1)
		d.logger.Info("downloading attachment",
			zap.String("loan_id", loanID),
			zap.String("filename", filename))

		prior := d.watcher.Snapshot()
		if err := d.portal.ClickModalDocAction(ctx, i); err != nil {
			d.logger.Warn("attachment click failed",
				zap.String("filename", filename),
				zap.Error(err))
			continue
		}

		saved, ok := d.watcher.AwaitNewFile(ctx, prior, downloadTimeout)
		if !ok {
			d.logger.Warn("attachment download timed out",
				zap.String("loan_id", loanID),
				zap.String("filename", filename))
			continue
		}

		handles = append(handles, DocumentHandle{
			LoanID:     loanID,
			NeedID:     needID,
			DocID:      docID,
			Filename:   filename,
			SavedName:  saved,
			LocalPath:  filepath.Join(d.downloadDir, saved),
			Section:    sectionTag,
			Downloaded: true,
		})
		d.logger.Info("attachment downloaded",
			zap.String("loan_id", loanID),
			zap.String("saved_as", saved))
		d.clock.Sleep(downloadSettle)
	}
	return handles
}
