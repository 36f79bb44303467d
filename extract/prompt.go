package extract

const systemPrompt = "You are an expert real estate appraisal analyst."

const extractionPrompt = `
You are an expert data extraction specialist for real estate appraisal documents.
Analyze the entire document thoroughly and extract structured data following this exact JSON schema.

Return ONLY a valid JSON object with this structure:

{
  "Appraisal Form Type": "Form designation (Fannie Mae Form 1004, 2055, 1025, 1073, 1075, GP2-4, GPLND)",
  "Subject Property Address": "Full property address",
  "Effective Date of Appraisal": "YYYY-MM-DD format",
  "Appraiser Name": "Name of appraiser",
  "Borrower Name": "Entity name of borrower",
  "Subject Additional Square Footage": "Numeric value for ADU/basement/casita sq ft",
  "Document Title": "Title on first page",
  "Subject Property Value": 000000,
  "As-Is Value": 000000,
  "ARV Value": 000000,
  "Sales Comparables": [
    {
      "Comp Address": "Address",
      "Comp Bed Count": 0,
      "Comp Bath Count": 0,
      "Comp GLA": 0000,
      "Comp Sale Price": 000000,
      "Comp Adjusted Sale Price": 000000,
      "Comp Sale Date": "YYYY-MM-DD",
      "Comp Data Source": "MLS/Public Records/etc",
      "Comp Lot Size": 0000,
      "Comp List of Amenities": "Description",
      "Comp Distance": "0.25 miles",
      "As-Is/ARV": "As-Is or ARV",
      "Comp Additional Square Footage": "0",
      "Comp Number and Type": "Sales Comparable #1"
    }
  ],
  "ARV Comparables": [...],
  "Land Comparables": [...],
  "Other Comparables": [...]
}

CRITICAL EXTRACTION RULES:

**Appraisal Form Type**: Search for exact text "Fannie Mae Form XXXX" or "Form GP2-4" or "Form GPLND"
Only return these valid options: "Fannie Mae Form 1004", "Fannie Mae Form 2055", "Fannie Mae Form 1025",
"Fannie Mae Form 1073", "Fannie Mae Form 1075", "Form GP2-4", "Form GPLND"

**As-Is Value and ARV Value Logic**:
Check the reconciliation section box that starts with "This appraisal is made":
- Box 1 ("as is"): As-Is value in reconciliation, ARV in comments/addendum
- Box 2-4 (subject to completion/repairs): ARV in reconciliation, As-Is in comments/addendum

**Comparable Types and Extraction**:
- Sales Comparables: Regular market sales for current value
- ARV Comparables: Properties for after-repair value analysis
- Land Comparables: Land sales for land value analysis
- Other Comparables: Rental comps, listings, etc.

For each comparable extract ALL fields:
- Address, bed/bath count, GLA, sale price, adjusted price, sale date
- Data source, lot size, amenities list, distance from subject
- Whether As-Is or ARV type, additional square footage
- Comparable number and section type

**Distance Extraction**: Look for distance measurements on location maps or in comparable descriptions
**Additional Square Footage**: Find basement, ADU, casita square footage for each comparable

Return null for missing numeric values, empty string for missing text values.
Ensure all comparable arrays have complete data structures even if some fields are empty.
`
