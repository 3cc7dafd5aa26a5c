// Package charts builds chart specifications from structured campaign rows.
// Rendering is an external collaborator; a Spec is data, not an image.
package charts

import (
	"fmt"
	"sort"

	"github.com/kalambet/campa/internal/campaigns"
)

// Kind identifies one of the supported chart types.
type Kind string

const (
	AudienceByTopic    Kind = "audience_by_topic"
	ConversionRate     Kind = "conversion_rate"
	SegmentPerformance Kind = "segment_performance"
	Trends             Kind = "trends"
)

// Available lists the supported chart kinds.
func Available() []Kind {
	return []Kind{AudienceByTopic, ConversionRate, SegmentPerformance, Trends}
}

// Point is one x/y pair in a chart series.
type Point struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

// Spec is a renderer-agnostic chart description.
type Spec struct {
	Kind   Kind    `json:"kind"`
	Chart  string  `json:"chart"` // "bar" or "line"
	Title  string  `json:"title"`
	XLabel string  `json:"x_label"`
	YLabel string  `json:"y_label"`
	Points []Point `json:"points"`
}

// Build aggregates rows into the requested chart spec.
func Build(kind Kind, rows []campaigns.Campaign) (Spec, error) {
	if len(rows) == 0 {
		return Spec{}, fmt.Errorf("no rows to chart")
	}

	switch kind {
	case AudienceByTopic:
		return groupedBar(kind, "Audience volume by campaign topic", "Topic", "Audience size", rows,
			func(c campaigns.Campaign) string { return c.CampaignTopic },
			func(c campaigns.Campaign) float64 { return float64(c.AudienceSize) },
		), nil
	case SegmentPerformance:
		return groupedBar(kind, "Conversions by customer segment", "Segment", "Conversions", rows,
			func(c campaigns.Campaign) string { return c.CustomerSegment },
			func(c campaigns.Campaign) float64 { return float64(c.Conversions) },
		), nil
	case ConversionRate:
		spec := Spec{
			Kind: kind, Chart: "bar",
			Title:  "Campaigns by conversion rate",
			XLabel: "Campaign", YLabel: "Conversion rate (%)",
		}
		sorted := make([]campaigns.Campaign, len(rows))
		copy(sorted, rows)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ConversionRate > sorted[j].ConversionRate })
		for _, c := range sorted {
			spec.Points = append(spec.Points, Point{X: fmt.Sprintf("Campaign %d", c.CampaignID), Y: c.ConversionRate})
		}
		return spec, nil
	case Trends:
		spec := Spec{
			Kind: kind, Chart: "line",
			Title:  "Conversion rate over time",
			XLabel: "Date", YLabel: "Conversion rate (%)",
		}
		sorted := make([]campaigns.Campaign, len(rows))
		copy(sorted, rows)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].CampaignDate < sorted[j].CampaignDate })
		for _, c := range sorted {
			spec.Points = append(spec.Points, Point{X: c.CampaignDate, Y: c.ConversionRate})
		}
		return spec, nil
	default:
		return Spec{}, fmt.Errorf("unknown chart kind %q", kind)
	}
}

func groupedBar(kind Kind, title, xLabel, yLabel string, rows []campaigns.Campaign,
	key func(campaigns.Campaign) string, value func(campaigns.Campaign) float64) Spec {

	sums := make(map[string]float64)
	var order []string
	for _, c := range rows {
		k := key(c)
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] += value(c)
	}
	sort.Strings(order)

	spec := Spec{Kind: kind, Chart: "bar", Title: title, XLabel: xLabel, YLabel: yLabel}
	for _, k := range order {
		spec.Points = append(spec.Points, Point{X: k, Y: sums[k]})
	}
	return spec
}
