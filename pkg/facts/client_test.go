package facts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFacts = `{
	"cik": 320193,
	"entityName": "Acme Corp",
	"facts": {
		"us-gaap": {
			"Revenues": {
				"label": "Revenues",
				"units": {
					"USD": [
						{"end": "2024-12-31", "val": 1200000000, "accn": "0000320193-25-000001", "form": "10-K", "fy": 2024, "fp": "FY"},
						{"end": "2023-12-31", "val": 1000000000, "accn": "0000320193-24-000001", "form": "10-K", "fy": 2023, "fp": "FY"}
					]
				}
			},
			"NetIncomeLoss": {
				"label": "Net Income (Loss)",
				"units": {
					"USD": [
						{"end": "2024-12-31", "val": 150000000, "accn": "0000320193-25-000001", "form": "10-K"}
					]
				}
			}
		}
	}
}`

func TestCompanyConcepts(t *testing.T) {
	var gotPath, gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleFacts))
	}))
	defer ts.Close()

	client := NewClient(
		WithBaseURL(ts.URL),
		WithUserAgent("filing-summary test@example.com"),
		WithRateLimit(1000),
	)

	cf, err := client.CompanyConcepts(context.Background(), "320193")
	require.NoError(t, err)

	assert.Equal(t, "/api/xbrl/companyfacts/CIK0000320193.json", gotPath)
	assert.Equal(t, "filing-summary test@example.com", gotUA)
	assert.Equal(t, "Acme Corp", cf.EntityName)
	require.Contains(t, cf.Concepts, "us-gaap:Revenues")

	rev := cf.Concepts["us-gaap:Revenues"]
	assert.Equal(t, "USD", rev.Unit)
	assert.Len(t, rev.Points, 2)
}

func TestCompanyConceptsUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.URL), WithRateLimit(1000))

	_, err := client.CompanyConcepts(context.Background(), "999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestCompanyConceptsRetriesTransientStatus(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleFacts))
	}))
	defer ts.Close()

	client := NewClient(WithBaseURL(ts.URL), WithRateLimit(1000))

	cf, err := client.CompanyConcepts(context.Background(), "320193")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "Acme Corp", cf.EntityName)
}

func TestLatestFor(t *testing.T) {
	series := ConceptSeries{
		Unit: "USD",
		Points: []FactPoint{
			{End: "2023-12-31", Value: 10, Accession: "a-1"},
			{End: "2024-12-31", Value: 20, Accession: "a-2"},
			{End: "2024-06-30", Value: 15, Accession: "a-2"},
		},
	}

	p, ok := series.LatestFor("a-2")
	require.True(t, ok)
	assert.Equal(t, 20.0, p.Value)

	p, ok = series.LatestFor("")
	require.True(t, ok)
	assert.Equal(t, "2024-12-31", p.End)

	_, ok = series.LatestFor("missing")
	assert.False(t, ok)
}

func TestPadCIK(t *testing.T) {
	assert.Equal(t, "0000320193", padCIK("320193"))
	assert.Equal(t, "1234567890", padCIK("1234567890"))
}
