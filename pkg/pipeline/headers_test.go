package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapHeaderResolvesVendorSpellings(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		field  string
		want   int
	}{
		{"exact name", []string{"name", "address"}, fieldName, 0},
		{"business name", []string{"Business Name", "City"}, fieldName, 0},
		{"phone alias", []string{"Name", "Contact Number"}, fieldPhone, 1},
		{"rating alias", []string{"Name", "Star Rating"}, fieldReviewsAverage, 1},
		{"review avg underscore", []string{"name", "review_avg"}, fieldReviewsAverage, 1},
		{"reviews count", []string{"name", "Number of Reviews"}, fieldReviewsCount, 1},
		{"town maps to city", []string{"name", "Town"}, fieldCity, 1},
		{"locality maps to area", []string{"name", "Locality"}, fieldArea, 1},
		{"british neighbourhood", []string{"name", "Neighbourhood"}, fieldArea, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapping := mapHeader(tt.header)
			idx, ok := mapping[tt.field]
			require.True(t, ok, "field %s not mapped", tt.field)
			assert.Equal(t, tt.want, idx)
		})
	}
}

func TestMapHeaderFirstColumnWinsOnAliasCollision(t *testing.T) {
	mapping := mapHeader([]string{"Phone", "Mobile Number"})
	assert.Equal(t, 0, mapping[fieldPhone])
}

func TestMapHeaderIgnoresUnknownColumns(t *testing.T) {
	mapping := mapHeader([]string{"name", "shoe size", "favourite colour"})
	assert.Len(t, mapping, 1)
}

func TestHasRequiredColumns(t *testing.T) {
	assert.True(t, mapHeader([]string{"Business Name"}).hasRequiredColumns())
	assert.False(t, mapHeader([]string{"address", "phone"}).hasRequiredColumns())
}

func TestGetHandlesShortRecords(t *testing.T) {
	mapping := mapHeader([]string{"name", "city"})

	assert.Equal(t, "Delhi", mapping.get([]string{"Shop", " Delhi "}, fieldCity))
	assert.Equal(t, "", mapping.get([]string{"Shop"}, fieldCity))
	assert.Equal(t, "", mapping.get([]string{"Shop", "Delhi"}, fieldState))
}
