package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// pulseChart renders an HTML scatter of recent pulse positions, colored
// by cascade position. Debug surface only.
func (s *Server) pulseChart(w http.ResponseWriter, r *http.Request) {
	limit := 500
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	pulses, err := s.db.RecentPulses(limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve pulses: %v", err), http.StatusInternalServerError)
		return
	}

	data := make([]opts.ScatterData, 0, len(pulses))
	maxPos := 1
	for _, p := range pulses {
		if p.CascadePosition > maxPos {
			maxPos = p.CascadePosition
		}
		data = append(data, opts.ScatterData{
			Value: []any{p.Longitude, p.Latitude, p.CascadePosition},
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pulse Map", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Recent Pulses", Subtitle: fmt.Sprintf("pulses=%d rendered=%s", len(pulses), time.Now().UTC().Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Longitude", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Latitude", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxPos),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#50a3ba", "#eac736", "#d94e5d"}},
		}),
	)
	scatter.AddSeries("pulses", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := scatter.Render(w); err != nil {
		http.Error(w, fmt.Sprintf("Failed to render chart: %v", err), http.StatusInternalServerError)
	}
}
