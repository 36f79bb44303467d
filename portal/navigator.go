package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"appraisalflow/config"
)

const (
	loginTimeout     = 10 * time.Second
	navStepTimeout   = 8 * time.Second
	loanLoadTimeout  = 15 * time.Second
	modalOpenTimeout = 8 * time.Second
	elementPoll      = 500 * time.Millisecond

	navSettle     = 2 * time.Second
	needsSettle   = 3 * time.Second
	advanceSettle = 5 * time.Second

	pipelinesNavLabel = "Pipelines"
)

// LoanRecord is one unit of work discovered in the portal list. The
// underlying element handle does not survive page transitions, so only
// the identifier is carried; the navigator re-scans the list on every
// advance.
type LoanRecord struct {
	ID string
}

// Navigator drives authentication and stateful navigation through the
// loan work queue: paginated records, sub-nav tabs and modal dialogs.
type Navigator struct {
	profile *config.Profile
	clock   Clock
	logger  *zap.Logger

	// browser task context, set by Bind after Browser.Start.
	ctx context.Context
}

func NewNavigator(profile *config.Profile, clock Clock, logger *zap.Logger) *Navigator {
	return &Navigator{profile: profile, clock: clock, logger: logger}
}

// Bind attaches the navigator to a running browser context.
func (n *Navigator) Bind(ctx context.Context) { n.ctx = ctx }

// Authenticate submits credentials on the login page and waits for the
// post-login marker. Failure is fatal for the run; the caller decides.
func (n *Navigator) Authenticate(ctx context.Context, username, password string) error {
	n.logger.Info("logging in to portal", zap.String("url", n.profile.LoginURL))

	if err := chromedp.Run(n.ctx, chromedp.Navigate(n.profile.LoginURL)); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	if !n.waitFor(ctx, n.profile.Selectors.UsernameField, loginTimeout) {
		return fmt.Errorf("login form did not appear")
	}

	err := chromedp.Run(n.ctx,
		chromedp.SendKeys(n.profile.Selectors.UsernameField, username, chromedp.ByQuery),
		chromedp.SendKeys(n.profile.Selectors.PasswordField, password+"\n", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("submit credentials: %w", err)
	}

	if !n.waitFor(ctx, n.profile.Selectors.PostLoginMarker, loginTimeout) {
		return fmt.Errorf("post-login marker %s did not appear", n.profile.Selectors.PostLoginMarker)
	}
	n.logger.Info("authentication successful")
	return nil
}

// EnterWorkQueue walks the nav chain into the funded-loan work queue:
// pipelines nav, my-pipeline link, then the post-funding stage filter.
func (n *Navigator) EnterWorkQueue(ctx context.Context) error {
	n.logger.Info("navigating to work queue")

	if !n.waitFor(ctx, n.profile.Selectors.PipelinesNav, navStepTimeout) {
		return fmt.Errorf("pipelines nav did not appear")
	}
	if err := n.clickNavLabel(n.profile.Selectors.PipelinesNav, pipelinesNavLabel); err != nil {
		return fmt.Errorf("open pipelines nav: %w", err)
	}
	n.clock.Sleep(navSettle)

	if !n.waitFor(ctx, n.profile.Selectors.MyPipelineLink, navStepTimeout) {
		return fmt.Errorf("my-pipeline link did not appear")
	}
	if err := n.jsClick(n.profile.Selectors.MyPipelineLink); err != nil {
		return fmt.Errorf("open my pipeline: %w", err)
	}
	n.clock.Sleep(navSettle)

	if !n.waitFor(ctx, n.profile.Selectors.StageFilter, navStepTimeout) {
		return fmt.Errorf("stage filter did not appear")
	}
	if err := n.jsClick(n.profile.Selectors.StageFilter); err != nil {
		return fmt.Errorf("apply stage filter: %w", err)
	}
	n.clock.Sleep(navSettle)

	n.logger.Info("work queue entered")
	return nil
}

// NextUnprocessedLoan re-scans the visible loan anchors, skips every
// identifier in exclude, clicks the first remaining one and waits for the
// loan page header. A nil record means no unprocessed loan is visible,
// which is a normal end-of-queue outcome.
func (n *Navigator) NextUnprocessedLoan(ctx context.Context, exclude map[string]struct{}) (*LoanRecord, error) {
	ids, ok := pollUntil(ctx, n.clock, elementPoll, navStepTimeout, func() ([]string, bool) {
		ids, err := n.visibleLoanIDs()
		if err != nil || len(ids) == 0 {
			return nil, false
		}
		return ids, true
	})
	if !ok {
		return nil, nil
	}

	var target string
	for _, id := range ids {
		if _, done := exclude[id]; !done {
			target = id
			break
		}
	}
	if target == "" {
		return nil, nil
	}

	n.logger.Info("opening loan", zap.String("loan_id", target))
	if err := n.clickLoanLink(target); err != nil {
		return nil, fmt.Errorf("click loan %s: %w", target, err)
	}
	if !n.waitFor(ctx, n.profile.Selectors.LoanHeader, loanLoadTimeout) {
		return nil, fmt.Errorf("loan %s page did not load", target)
	}
	return &LoanRecord{ID: target}, nil
}

// AdvanceNext clicks the next-loan control when it carries a non-empty
// page action. False means the end of the queue was reached.
func (n *Navigator) AdvanceNext(ctx context.Context) bool {
	script := fmt.Sprintf(`(() => {
		const btns = document.querySelectorAll(%q);
		for (const b of btns) {
			const oc = b.getAttribute('onclick') || '';
			if (oc.includes("loadIndex2(") && !oc.includes("loadIndex2('')")) {
				b.click();
				return true;
			}
		}
		return false;
	})()`, n.profile.Selectors.NextButtons)

	var clicked bool
	if err := chromedp.Run(n.ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		n.logger.Warn("advance to next loan failed", zap.Error(err))
		return false
	}
	if clicked {
		n.clock.Sleep(advanceSettle)
	}
	return clicked
}

// OpenAttachmentsView opens the needs tab of the loaded loan.
func (n *Navigator) OpenAttachmentsView(ctx context.Context) error {
	if !n.waitFor(ctx, n.profile.Selectors.NeedsButton, loanLoadTimeout) {
		return fmt.Errorf("needs tab did not appear")
	}
	if err := n.jsClick(n.profile.Selectors.NeedsButton); err != nil {
		return fmt.Errorf("open needs tab: %w", err)
	}
	n.clock.Sleep(needsSettle)
	return nil
}

// PageMarkup returns the current page HTML for row classification.
func (n *Navigator) PageMarkup(ctx context.Context) (string, error) {
	var markup string
	if err := chromedp.Run(n.ctx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page markup: %w", err)
	}
	return markup, nil
}

// OpenDocsModal triggers the attachment dialog for one need/document pair
// and waits for its content to render.
func (n *Navigator) OpenDocsModal(ctx context.Context, needID, docID string) error {
	script := fmt.Sprintf("openNeedDocs('%s', '%s');", jsEscape(needID), jsEscape(docID))
	if err := chromedp.Run(n.ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("open docs modal: %w", err)
	}
	if !n.waitFor(ctx, n.profile.Selectors.ModalContent, modalOpenTimeout) {
		return fmt.Errorf("docs modal did not appear")
	}
	return nil
}

// ModalDocActions lists the onclick descriptors of every document-open
// button inside the modal, in DOM order.
func (n *Navigator) ModalDocActions(ctx context.Context) ([]string, error) {
	script := `Array.from(document.querySelectorAll("button[onclick*='openDoc']")).map(b => b.getAttribute('onclick') || '')`
	var actions []string
	if err := chromedp.Run(n.ctx, chromedp.Evaluate(script, &actions)); err != nil {
		return nil, fmt.Errorf("list modal doc actions: %w", err)
	}
	return actions, nil
}

// ClickModalDocAction clicks the index-th document button in the modal.
func (n *Navigator) ClickModalDocAction(ctx context.Context, index int) error {
	script := fmt.Sprintf(`(() => {
		const btns = document.querySelectorAll("button[onclick*='openDoc']");
		if (%d >= btns.length) return false;
		btns[%d].click();
		return true;
	})()`, index, index)

	var clicked bool
	if err := chromedp.Run(n.ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return fmt.Errorf("click modal doc button %d: %w", index, err)
	}
	if !clicked {
		return fmt.Errorf("modal doc button %d not found", index)
	}
	return nil
}

// CloseModal tries each configured close control in order and falls back
// to force-hiding the dialog. Dismissal failure is logged, never fatal.
func (n *Navigator) CloseModal(ctx context.Context) {
	for _, sel := range n.profile.ModalCloseSelectors {
		script := fmt.Sprintf(`(() => {
			const btns = document.querySelectorAll(%q);
			for (const b of btns) {
				if (b.offsetParent !== null && !b.disabled) {
					b.click();
					return true;
				}
			}
			return false;
		})()`, sel)

		var closed bool
		if err := chromedp.Run(n.ctx, chromedp.Evaluate(script, &closed)); err == nil && closed {
			n.clock.Sleep(navSettle)
			return
		}
	}

	forceClose := `
		document.querySelectorAll('.modal').forEach(m => m.style.display = 'none');
		document.querySelectorAll('.modal-backdrop').forEach(b => b.remove());
		document.body.classList.remove('modal-open');
	`
	if err := chromedp.Run(n.ctx, chromedp.Evaluate(forceClose, nil)); err != nil {
		n.logger.Warn("modal dismissal failed", zap.Error(err))
	}
}

func (n *Navigator) visibleLoanIDs() ([]string, error) {
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(a => a.textContent.trim()).filter(t => t.length > 0)`,
		n.profile.Selectors.LoanLinks)
	var ids []string
	if err := chromedp.Run(n.ctx, chromedp.Evaluate(script, &ids)); err != nil {
		return nil, err
	}
	return ids, nil
}

func (n *Navigator) clickLoanLink(loanID string) error {
	script := fmt.Sprintf(`(() => {
		const links = document.querySelectorAll(%q);
		for (const a of links) {
			if (a.textContent.trim() === %q) {
				a.scrollIntoView({block: 'center'});
				a.click();
				return true;
			}
		}
		return false;
	})()`, n.profile.Selectors.LoanLinks, loanID)

	var clicked bool
	if err := chromedp.Run(n.ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("loan link not found")
	}
	return nil
}

func (n *Navigator) clickNavLabel(rootSelector, label string) error {
	script := fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%q + " div");
		for (const el of els) {
			if (el.textContent.trim() === %q) {
				el.click();
				return true;
			}
		}
		return false;
	})()`, rootSelector, label)

	var clicked bool
	if err := chromedp.Run(n.ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("nav entry %q not found", label)
	}
	return nil
}

// waitFor polls for element presence with a bounded budget. A false
// result is the normal "not found" outcome.
func (n *Navigator) waitFor(ctx context.Context, selector string, timeout time.Duration) bool {
	_, ok := pollUntil(ctx, n.clock, elementPoll, timeout, func() (struct{}, bool) {
		var present bool
		script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
		if err := chromedp.Run(n.ctx, chromedp.Evaluate(script, &present)); err != nil {
			return struct{}{}, false
		}
		return struct{}{}, present
	})
	return ok
}

func (n *Navigator) jsClick(selector string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.click();
		return true;
	})()`, selector)

	var clicked bool
	if err := chromedp.Run(n.ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("element not found: %s", selector)
	}
	return nil
}

func jsEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
