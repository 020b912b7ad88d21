package report

import (
	"fmt"
	"strconv"
	"strings"
)

// RawQuery is one executed analytics query kept in the evidence pack, with
// its normalized result.
type RawQuery struct {
	Desc   string         `json:"desc"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// Pack is the fact-only evidence handed to the insight generator: summary
// stats and chart aggregates computed from the data, plus data-quality
// notes. Nothing in a Pack is LLM-derived.
type Pack struct {
	PropertyID string                    `json:"property_id,omitempty"`
	WindowDays int                       `json:"window_days,omitempty"`
	Summary    map[string]any            `json:"summary"`
	Charts     map[string]map[string]any `json:"charts"`
	Raws       []RawQuery                `json:"raws"`
	Notes      []string                  `json:"notes"`
	Warnings   []string                  `json:"warnings"`
}

// ToMap renders the pack in the shape the renderer and the insight prompt
// consume.
func (p *Pack) ToMap() map[string]any {
	return map[string]any{
		"property_id": p.PropertyID,
		"window_days": p.WindowDays,
		"summary":     p.Summary,
		"charts":      p.Charts,
		"raws":        p.Raws,
		"data_quality": map[string]any{
			"notes":    p.Notes,
			"warnings": p.Warnings,
		},
	}
}

// BuildPack assembles an evidence pack from executed queries. The reporting
// window and property are inferred from the first query's arguments;
// defaultWindowDays applies when no "NdaysAgo" range is present.
func BuildPack(raws []RawQuery, defaultWindowDays int) *Pack {
	pack := &Pack{
		WindowDays: defaultWindowDays,
		Summary:    map[string]any{},
		Charts:     map[string]map[string]any{},
		Raws:       raws,
	}

	if len(raws) > 0 {
		args := raws[0].Args
		if pid, ok := args["property_id"].(string); ok {
			pack.PropertyID = pid
		}
		if days, ok := windowDaysFromArgs(args); ok {
			pack.WindowDays = days
		}
	}

	for _, raw := range raws {
		if len(pack.Summary) == 0 {
			if summary := SummaryFromReport(raw.Result); summary != nil {
				pack.Summary = summary
			}
		}
		chart := ChartFromReport(raw.Result)
		key := ChartKeyFor(raw.Result, chart)
		if key == "" || chart == nil {
			continue
		}
		// First writer wins per key, later queries never overwrite.
		if _, exists := pack.Charts[key]; !exists {
			pack.Charts[key] = chart
		}
	}

	if len(pack.Summary) == 0 {
		pack.Warnings = append(pack.Warnings,
			"Could not compute a summary from the analytics results.")
	}
	if len(pack.Charts) == 0 {
		pack.Warnings = append(pack.Warnings,
			"No chart data was produced from the analytics results.")
	}
	pack.Notes = append(pack.Notes, "All insight text is AI generated and for reference only.")

	return pack
}

// windowDaysFromArgs infers the report window from a "NdaysAgo" start date
// in date_ranges.
func windowDaysFromArgs(args map[string]any) (int, bool) {
	ranges, ok := args["date_ranges"].([]any)
	if !ok || len(ranges) == 0 {
		return 0, false
	}
	first, ok := ranges[0].(map[string]any)
	if !ok {
		return 0, false
	}
	start, ok := first["start_date"].(string)
	if !ok {
		return 0, false
	}
	start = strings.TrimSpace(start)
	if !strings.HasSuffix(start, "daysAgo") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(start, "daysAgo"))
	if err != nil {
		return 0, false
	}
	return n, true
}

// SummaryFromReport derives headline totals from an analytics report
// result, or nil when the result has no usable metrics.
func SummaryFromReport(result map[string]any) map[string]any {
	metricNames := headerNames(result, "metric_headers")
	if len(metricNames) == 0 {
		return nil
	}

	totals := map[string]float64{}
	for _, row := range rowsOf(result) {
		values := cellValues(row, "metric_values")
		for i, name := range metricNames {
			if i >= len(values) {
				break
			}
			if v, err := strconv.ParseFloat(values[i], 64); err == nil {
				totals[name] += v
			}
		}
	}

	visits := int(totals["sessions"])
	pageViews := int(totals["screenPageViews"])
	pagesPerSession := 0.0
	if visits > 0 {
		pagesPerSession = float64(pageViews) / float64(visits)
		pagesPerSession = float64(int(pagesPerSession*100+0.5)) / 100
	}
	return map[string]any{
		"total_visits":          visits,
		"total_unique_visitors": int(totals["activeUsers"]),
		"total_page_views":      pageViews,
		"pages_per_session":     pagesPerSession,
	}
}

// pieFriendlyDims are distribution-type dimensions where a pie chart reads
// well; page and content dimensions render as bars instead.
var pieFriendlyDims = map[string]bool{
	"deviceCategory":             true,
	"sessionDefaultChannelGroup": true,
	"country":                    true,
	"city":                       true,
	"region":                     true,
	"browser":                    true,
	"operatingSystem":            true,
	"platform":                   true,
	"language":                   true,
}

// ChartFromReport turns an analytics report result into a chart aggregate:
// a line chart for date series, a pie for small single-metric
// distributions, a bar chart otherwise. Nil when the result carries no
// metrics.
func ChartFromReport(result map[string]any) map[string]any {
	dimNames := headerNames(result, "dimension_headers")
	metricNames := headerNames(result, "metric_headers")
	if len(metricNames) == 0 {
		return nil
	}

	var data []map[string]any
	for _, row := range rowsOf(result) {
		entry := map[string]any{}
		dimValues := cellValues(row, "dimension_values")
		for i, name := range dimNames {
			if i < len(dimValues) {
				entry[name] = humanizeValue(name, dimValues[i])
			}
		}
		metricValues := cellValues(row, "metric_values")
		for i, name := range metricNames {
			if i >= len(metricValues) {
				break
			}
			entry[name] = parseMetric(metricValues[i])
		}
		data = append(data, entry)
	}

	xKey := "x"
	if len(dimNames) > 0 {
		xKey = dimNames[0]
	}

	if strings.Contains(strings.ToLower(xKey), "date") {
		return map[string]any{
			"chart_type": "line",
			"title":      "Trend",
			"data":       data,
			"x_key":      xKey,
			"y_keys":     metricNames,
		}
	}

	if len(metricNames) == 1 && len(data) <= 12 && pieFriendlyDims[xKey] {
		pieData := make([]map[string]any, len(data))
		for i, entry := range data {
			pieData[i] = map[string]any{
				"name":  entry[xKey],
				"value": entry[metricNames[0]],
			}
		}
		return map[string]any{
			"chart_type": "pie",
			"title":      xKey + " Distribution",
			"data":       pieData,
			"value_key":  "value",
			"label_key":  "name",
		}
	}

	return map[string]any{
		"chart_type": "bar",
		"title":      fmt.Sprintf("%s - %s", xKey, metricNames[0]),
		"data":       data,
		"x_key":      xKey,
		"y_key":      metricNames[0],
	}
}

// ChartKeyFor decides which renderer slot a chart lands in: well-known
// dimensions map to standard slots, the rest get a type-prefixed dynamic
// slot.
func ChartKeyFor(result map[string]any, chart map[string]any) string {
	if chart == nil {
		return ""
	}
	chartType, _ := chart["chart_type"].(string)
	if chartType == "" {
		chartType = "bar"
	}

	dimNames := headerNames(result, "dimension_headers")
	first := "unknown"
	if len(dimNames) > 0 {
		first = strings.ToLower(dimNames[0])
	}

	switch first {
	case "date":
		return "daily_visits"
	case "sessiondefaultchannelgroup":
		return "traffic_sources"
	case "devicecategory":
		return "device_stats"
	}
	if strings.Contains(first, "page") || strings.Contains(first, "screen") {
		return "top_pages"
	}
	if strings.Contains(first, "event") {
		return "user_engagement"
	}

	prefix := ""
	switch first {
	case "country", "city", "region", "continent":
		prefix = "geo_"
	case "browser", "operatingsystem", "platform":
		prefix = "tech_"
	}
	return chartType + "_" + prefix + first
}

func rowsOf(result map[string]any) []any {
	rows, _ := result["rows"].([]any)
	return rows
}

// headerNames extracts the "name" of each header entry under key.
func headerNames(result map[string]any, key string) []string {
	headers, _ := result[key].([]any)
	var names []string
	for _, h := range headers {
		if m, ok := h.(map[string]any); ok {
			if name, ok := m["name"].(string); ok && name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// cellValues extracts the "value" strings of one row's cell list.
func cellValues(row any, key string) []string {
	m, ok := row.(map[string]any)
	if !ok {
		return nil
	}
	cells, _ := m[key].([]any)
	values := make([]string, 0, len(cells))
	for _, cell := range cells {
		if cm, ok := cell.(map[string]any); ok {
			if v, ok := cm["value"].(string); ok {
				values = append(values, v)
				continue
			}
		}
		values = append(values, fmt.Sprint(cell))
	}
	return values
}

func parseMetric(value string) any {
	if strings.Contains(value, ".") {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return value
}

var channelGroupLabels = map[string]string{
	"Organic Social": "Social Media",
	"Organic Video":  "Video",
	"(Other)":        "Other",
	"(not set)":      "Not Set",
}

var deviceLabels = map[string]string{
	"desktop": "Desktop",
	"mobile":  "Mobile",
	"tablet":  "Tablet",
}

// humanizeValue translates technical analytics values into readable labels.
func humanizeValue(dimName, value string) string {
	if value == "" {
		return value
	}
	switch dimName {
	case "sessionDefaultChannelGroup":
		if label, ok := channelGroupLabels[value]; ok {
			return label
		}
	case "deviceCategory":
		if label, ok := deviceLabels[strings.ToLower(value)]; ok {
			return label
		}
	}
	return value
}
