package pipeline

import "strings"

// Canonical CSV fields. Vendor exports disagree on header spelling, so the
// alias table below maps what vendors actually send onto these names. The
// mapping is confined to the ingestion boundary; everything downstream sees
// canonical fields only.
const (
	fieldName           = "name"
	fieldAddress        = "address"
	fieldWebsite        = "website"
	fieldPhone          = "phone_number"
	fieldReviewsCount   = "reviews_count"
	fieldReviewsAverage = "reviews_average"
	fieldCategory       = "category"
	fieldSubcategory    = "subcategory"
	fieldCity           = "city"
	fieldState          = "state"
	fieldArea           = "area"
)

// headerAliases maps squashed header spellings to canonical fields. Keys are
// lowercase with everything non-alphanumeric removed, so "Review Avg",
// "review_avg" and "ReviewAvg" all land on the same entry.
var headerAliases = map[string]string{
	"name":         fieldName,
	"businessname": fieldName,
	"listingname":  fieldName,
	"company":      fieldName,
	"companyname":  fieldName,

	"address":       fieldAddress,
	"fulladdress":   fieldAddress,
	"streetaddress": fieldAddress,

	"website": fieldWebsite,
	"url":     fieldWebsite,
	"web":     fieldWebsite,

	"phone":         fieldPhone,
	"phonenumber":   fieldPhone,
	"contact":       fieldPhone,
	"contactnumber": fieldPhone,
	"mobile":        fieldPhone,
	"mobilenumber":  fieldPhone,

	"reviews":       fieldReviewsCount,
	"reviewcount":   fieldReviewsCount,
	"reviewscount":  fieldReviewsCount,
	"numberofreviews": fieldReviewsCount,

	"rating":         fieldReviewsAverage,
	"ratings":        fieldReviewsAverage,
	"reviewavg":      fieldReviewsAverage,
	"reviewsavg":     fieldReviewsAverage,
	"reviewsaverage": fieldReviewsAverage,
	"avgrating":      fieldReviewsAverage,
	"averagerating":  fieldReviewsAverage,
	"starrating":     fieldReviewsAverage,

	"category":     fieldCategory,
	"maincategory": fieldCategory,

	"subcategory": fieldSubcategory,

	"city": fieldCity,
	"town": fieldCity,

	"state":    fieldState,
	"province": fieldState,

	"area":          fieldArea,
	"locality":      fieldArea,
	"neighborhood":  fieldArea,
	"neighbourhood": fieldArea,
}

// columnMapping maps canonical fields to column indexes in one CSV file.
type columnMapping map[string]int

// mapHeader resolves a header row to canonical columns. Unrecognized columns
// are ignored; when two columns alias the same field the first one wins.
func mapHeader(header []string) columnMapping {
	mapping := make(columnMapping)
	for i, cell := range header {
		field, ok := headerAliases[squashHeader(cell)]
		if !ok {
			continue
		}
		if _, taken := mapping[field]; taken {
			continue
		}
		mapping[field] = i
	}
	return mapping
}

// hasRequiredColumns reports whether the mapping covers enough columns to be
// worth ingesting. A file without a name column carries nothing usable.
func (m columnMapping) hasRequiredColumns() bool {
	_, ok := m[fieldName]
	return ok
}

// get returns the value of a canonical field in a record, or "" when the
// column is absent or the record is short.
func (m columnMapping) get(record []string, field string) string {
	idx, ok := m[field]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func squashHeader(cell string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(cell)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
