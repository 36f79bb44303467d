package discover

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Keyword lists for row classification. Matching is case-sensitive
// substring containment; downstream consumers depend on the exact rule,
// so do not loosen it into tokenized or fuzzy matching.
var (
	constructionKeywords = []string{
		"LO-LOI Accepted-Construction - Ground Up Sale",
		"Construction - Ground Up Sale",
		"Construction",
	}
	appraisalKeywords = []string{
		"Appraisal Report",
		"Appraisal",
	}
	valueTypeKeywords = []string{
		"As Is", "ARV", "Subject To", "Completed",
	}
)

var (
	needDocsActionRe = regexp.MustCompile(`openNeedDocs\('([^']+)','([^']+)'\)`)
	openDocActionRe  = regexp.MustCompile(`openDoc\('[^']*','[^']*','([^']*)'\)`)
)

// IsAppraisalCandidate reports whether a row's text identifies an
// appraisal attachment: a construction keyword together with an appraisal
// keyword, or an appraisal keyword together with a value-type keyword.
func IsAppraisalCandidate(rowText string) bool {
	hasConstruction := containsAny(rowText, constructionKeywords)
	hasAppraisal := containsAny(rowText, appraisalKeywords)
	hasValueType := containsAny(rowText, valueTypeKeywords)

	return (hasConstruction && hasAppraisal) || (hasAppraisal && hasValueType)
}

// FindAppraisalRows parses page markup and returns the need rows that
// classify as appraisal candidates, in document order.
func FindAppraisalRows(markup string) ([]*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse page markup: %w", err)
	}

	var rows []*goquery.Selection
	doc.Find("tr.need").Each(func(_ int, row *goquery.Selection) {
		if IsAppraisalCandidate(row.Text()) {
			rows = append(rows, row)
		}
	})
	return rows, nil
}

// ParseNeedDocsAction extracts the need/document identifier pair from an
// inline action descriptor.
func ParseNeedDocsAction(onclick string) (needID, docID string, ok bool) {
	m := needDocsActionRe.FindStringSubmatch(onclick)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// DocActionFilename pulls the display filename out of a document-open
// descriptor. When the descriptor carries no filename the name is
// synthesized from the button's 1-based position.
func DocActionFilename(onclick string, position int) string {
	if m := openDocActionRe.FindStringSubmatch(onclick); m != nil && m[1] != "" {
		return m[1]
	}
	return fmt.Sprintf("appraisal_%d.pdf", position)
}

// rowNeedDocsAction follows only the first embedded document-open action
// in a row; later duplicate actions in the same row are ignored.
func rowNeedDocsAction(row *goquery.Selection) (needID, docID string, ok bool) {
	span := row.Find("span[onclick*='openNeedDocs']").First()
	if span.Length() == 0 {
		return "", "", false
	}
	onclick, _ := span.Attr("onclick")
	return ParseNeedDocsAction(onclick)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
