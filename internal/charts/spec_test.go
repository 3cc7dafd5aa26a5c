package charts

import (
	"testing"

	"github.com/kalambet/campa/internal/campaigns"
)

var testRows = []campaigns.Campaign{
	{CampaignID: 101, CampaignTopic: "loyalty", CustomerSegment: "retail", CampaignDate: "2025-02-01", AudienceSize: 1000, Conversions: 50, ConversionRate: 5.0},
	{CampaignID: 102, CampaignTopic: "fitness", CustomerSegment: "retail", CampaignDate: "2025-01-01", AudienceSize: 2000, Conversions: 30, ConversionRate: 1.5},
	{CampaignID: 103, CampaignTopic: "loyalty", CustomerSegment: "wholesale", CampaignDate: "2025-03-01", AudienceSize: 500, Conversions: 40, ConversionRate: 8.0},
}

// TestAudienceByTopicAggregates sums audience per topic.
func TestAudienceByTopicAggregates(t *testing.T) {
	spec, err := Build(AudienceByTopic, testRows)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.Chart != "bar" {
		t.Errorf("Chart = %q, want bar", spec.Chart)
	}
	if len(spec.Points) != 2 {
		t.Fatalf("points = %d, want 2 topics", len(spec.Points))
	}
	// Sorted alphabetically: fitness, loyalty.
	if spec.Points[0].X != "fitness" || spec.Points[0].Y != 2000 {
		t.Errorf("points[0] = %+v", spec.Points[0])
	}
	if spec.Points[1].X != "loyalty" || spec.Points[1].Y != 1500 {
		t.Errorf("points[1] = %+v", spec.Points[1])
	}
}

// TestConversionRateSortsDescending orders campaigns by rate.
func TestConversionRateSortsDescending(t *testing.T) {
	spec, err := Build(ConversionRate, testRows)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(spec.Points) != 3 {
		t.Fatalf("points = %d, want 3", len(spec.Points))
	}
	if spec.Points[0].X != "Campaign 103" {
		t.Errorf("points[0].X = %q, want the highest-rate campaign", spec.Points[0].X)
	}
}

// TestTrendsIsChronologicalLine sorts by date and uses a line chart.
func TestTrendsIsChronologicalLine(t *testing.T) {
	spec, err := Build(Trends, testRows)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.Chart != "line" {
		t.Errorf("Chart = %q, want line", spec.Chart)
	}
	if spec.Points[0].X != "2025-01-01" || spec.Points[2].X != "2025-03-01" {
		t.Errorf("points not chronological: %+v", spec.Points)
	}
}

// TestBuildRejectsEmptyAndUnknown covers the error paths.
func TestBuildRejectsEmptyAndUnknown(t *testing.T) {
	if _, err := Build(ConversionRate, nil); err == nil {
		t.Error("expected error for empty rows")
	}
	if _, err := Build(Kind("pie"), testRows); err == nil {
		t.Error("expected error for unknown kind")
	}
}
