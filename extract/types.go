package extract

import "encoding/json"

// Appraisal is the typed view of one extraction result. Every field
// except Filename is optional: the model may omit or null anything, and
// validation only warns about it.
type Appraisal struct {
	Filename       string   `json:"Filename"`
	FormType       *string  `json:"Appraisal Form Type"`
	Address        *string  `json:"Subject Property Address"`
	EffectiveDate  *string  `json:"Effective Date of Appraisal"`
	AppraiserName  *string  `json:"Appraiser Name"`
	BorrowerName   *string  `json:"Borrower Name"`
	AdditionalSqFt *string  `json:"Subject Additional Square Footage"`
	DocumentTitle  *string  `json:"Document Title"`
	SubjectValue   *float64 `json:"Subject Property Value"`
	AsIsValue      *float64 `json:"As-Is Value"`
	ARVValue       *float64 `json:"ARV Value"`

	SalesComparables []Comparable `json:"Sales Comparables"`
	ARVComparables   []Comparable `json:"ARV Comparables"`
	LandComparables  []Comparable `json:"Land Comparables"`
	OtherComparables []Comparable `json:"Other Comparables"`
}

// Comparable is one reference sale used to justify a valuation.
type Comparable struct {
	Address           *string  `json:"Comp Address"`
	BedCount          *float64 `json:"Comp Bed Count"`
	BathCount         *float64 `json:"Comp Bath Count"`
	GLA               *float64 `json:"Comp GLA"`
	SalePrice         *float64 `json:"Comp Sale Price"`
	AdjustedSalePrice *float64 `json:"Comp Adjusted Sale Price"`
	SaleDate          *string  `json:"Comp Sale Date"`
	DataSource        *string  `json:"Comp Data Source"`
	LotSize           *float64 `json:"Comp Lot Size"`
	Amenities         *string  `json:"Comp List of Amenities"`
	Distance          *string  `json:"Comp Distance"`
	AsIsOrARV         *string  `json:"As-Is/ARV"`
	AdditionalSqFt    *string  `json:"Comp Additional Square Footage"`
	Label             *string  `json:"Comp Number and Type"`
}

// Result distinguishes "parsed but possibly incomplete" from
// "unparseable". Fields carries the response exactly as the model
// produced it and is what gets persisted; Appraisal is a best-effort
// typed view and may be nil when the shape diverges from the schema.
// When both parse tiers fail, Raw holds the unparsable response text and
// Err the reason.
type Result struct {
	Fields    map[string]any
	Appraisal *Appraisal
	Warnings  []string

	Raw string
	Err string
}

// Succeeded reports whether a parsed result was produced.
func (r *Result) Succeeded() bool { return r.Err == "" }

// decodeTyped builds the typed view from parsed fields. A shape mismatch
// is not an error; the typed view is simply absent.
func decodeTyped(fields map[string]any) *Appraisal {
	b, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	var a Appraisal
	if err := json.Unmarshal(b, &a); err != nil {
		return nil
	}
	return &a
}
