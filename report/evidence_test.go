package report

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func gaReport(dim string, rows [][2]string) map[string]any {
	var rawRows []any
	for _, row := range rows {
		rawRows = append(rawRows, map[string]any{
			"dimension_values": []any{map[string]any{"value": row[0]}},
			"metric_values":    []any{map[string]any{"value": row[1]}},
		})
	}
	return map[string]any{
		"dimension_headers": []any{map[string]any{"name": dim}},
		"metric_headers":    []any{map[string]any{"name": "sessions"}},
		"rows":              rawRows,
	}
}

func TestSummaryFromReport(t *testing.T) {
	result := map[string]any{
		"metric_headers": []any{
			map[string]any{"name": "sessions"},
			map[string]any{"name": "activeUsers"},
			map[string]any{"name": "screenPageViews"},
		},
		"rows": []any{
			map[string]any{"metric_values": []any{
				map[string]any{"value": "10"},
				map[string]any{"value": "8"},
				map[string]any{"value": "25"},
			}},
			map[string]any{"metric_values": []any{
				map[string]any{"value": "10"},
				map[string]any{"value": "2"},
				map[string]any{"value": "15"},
			}},
		},
	}

	summary := SummaryFromReport(result)
	gt.Equal(t, summary["total_visits"], 20)
	gt.Equal(t, summary["total_unique_visitors"], 10)
	gt.Equal(t, summary["total_page_views"], 40)
	gt.Equal(t, summary["pages_per_session"], 2.0)

	t.Run("no metrics means no summary", func(t *testing.T) {
		gt.Nil(t, SummaryFromReport(map[string]any{}))
	})
}

func TestChartFromReport(t *testing.T) {
	t.Run("date dimension becomes a line chart", func(t *testing.T) {
		chart := ChartFromReport(gaReport("date", [][2]string{
			{"20260801", "10"}, {"20260802", "12"},
		}))
		gt.Value(t, chart).NotNil()
		gt.Equal(t, chart["chart_type"], "line")
		gt.Equal(t, chart["x_key"], "date")
	})

	t.Run("small device distribution becomes a pie chart", func(t *testing.T) {
		chart := ChartFromReport(gaReport("deviceCategory", [][2]string{
			{"desktop", "10"}, {"mobile", "5"},
		}))
		gt.Equal(t, chart["chart_type"], "pie")
		data := chart["data"].([]map[string]any)
		gt.Equal(t, data[0]["name"], "Desktop")
		gt.Equal(t, data[0]["value"], 10)
	})

	t.Run("page dimensions become a bar chart", func(t *testing.T) {
		chart := ChartFromReport(gaReport("pagePath", [][2]string{
			{"/home", "100"}, {"/about", "30"},
		}))
		gt.Equal(t, chart["chart_type"], "bar")
	})

	t.Run("no metrics means no chart", func(t *testing.T) {
		gt.Nil(t, ChartFromReport(map[string]any{}))
	})
}

func TestChartKeyFor(t *testing.T) {
	t.Run("standard slots", func(t *testing.T) {
		result := gaReport("date", [][2]string{{"20260801", "1"}})
		gt.Equal(t, ChartKeyFor(result, ChartFromReport(result)), "daily_visits")

		result = gaReport("sessionDefaultChannelGroup", [][2]string{{"Direct", "1"}})
		gt.Equal(t, ChartKeyFor(result, ChartFromReport(result)), "traffic_sources")

		result = gaReport("deviceCategory", [][2]string{{"desktop", "1"}})
		gt.Equal(t, ChartKeyFor(result, ChartFromReport(result)), "device_stats")

		result = gaReport("pagePath", [][2]string{{"/home", "1"}})
		gt.Equal(t, ChartKeyFor(result, ChartFromReport(result)), "top_pages")

		result = gaReport("eventName", [][2]string{{"click", "1"}})
		gt.Equal(t, ChartKeyFor(result, ChartFromReport(result)), "user_engagement")
	})

	t.Run("dynamic slots carry type and semantic prefix", func(t *testing.T) {
		result := gaReport("country", [][2]string{{"Japan", "1"}})
		gt.Equal(t, ChartKeyFor(result, ChartFromReport(result)), "pie_geo_country")

		result = gaReport("browser", [][2]string{{"Chrome", "1"}})
		gt.Equal(t, ChartKeyFor(result, ChartFromReport(result)), "pie_tech_browser")
	})

	t.Run("nil chart has no key", func(t *testing.T) {
		gt.Equal(t, ChartKeyFor(map[string]any{}, nil), "")
	})
}

func TestBuildPack(t *testing.T) {
	raws := []RawQuery{
		{
			Desc: "Daily visits", Tool: "run_report",
			Args: map[string]any{
				"property_id": "prop-1",
				"date_ranges": []any{map[string]any{
					"start_date": "7daysAgo", "end_date": "yesterday",
				}},
			},
			Result: gaReport("date", [][2]string{{"20260801", "10"}}),
		},
		{
			Desc: "Devices", Tool: "run_report",
			Args:   map[string]any{"property_id": "prop-1"},
			Result: gaReport("deviceCategory", [][2]string{{"desktop", "7"}}),
		},
	}

	pack := BuildPack(raws, 30)
	gt.Equal(t, pack.PropertyID, "prop-1")
	gt.Equal(t, pack.WindowDays, 7)
	gt.Equal(t, len(pack.Charts), 2)
	gt.Value(t, pack.Charts["daily_visits"]).NotNil()
	gt.Value(t, pack.Charts["device_stats"]).NotNil()
	gt.Equal(t, len(pack.Warnings), 0)
	gt.Equal(t, len(pack.Notes), 1)

	t.Run("default window applies without a daysAgo range", func(t *testing.T) {
		pack := BuildPack([]RawQuery{{
			Tool: "run_report", Args: map[string]any{},
			Result: gaReport("date", [][2]string{{"20260801", "1"}}),
		}}, 30)
		gt.Equal(t, pack.WindowDays, 30)
	})

	t.Run("empty evidence produces warnings", func(t *testing.T) {
		pack := BuildPack(nil, 7)
		gt.Equal(t, len(pack.Warnings), 2)
	})

	t.Run("later queries never overwrite a chart slot", func(t *testing.T) {
		pack := BuildPack([]RawQuery{
			{Tool: "run_report", Result: gaReport("date", [][2]string{{"20260801", "1"}})},
			{Tool: "run_report", Result: gaReport("date", [][2]string{{"20260802", "99"}})},
		}, 7)
		chart := pack.Charts["daily_visits"]
		data := chart["data"].([]map[string]any)
		gt.Equal(t, data[0]["date"], "20260801")
	})
}
