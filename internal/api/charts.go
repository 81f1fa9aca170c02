package api

import (
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleTripsChart renders a quick bar chart (HTML) of closed trips per day
// using go-echarts. This is a debugging-only endpoint, handy for eyeballing
// ingestion volume without a frontend.
//
// Query params:
//   - days (optional; default 14, max 90)
func (ws *WebServer) handleTripsChart(w http.ResponseWriter, r *http.Request) {
	days := 14
	if d := r.URL.Query().Get("days"); d != "" {
		if v, err := strconv.Atoi(d); err == nil && v > 0 && v <= 90 {
			days = v
		}
	}

	dates, counts, err := ws.db.TripsPerDay(days)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(dates) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no trips recorded in the window")
		return
	}

	data := make([]opts.BarData, len(counts))
	for i, n := range counts {
		data[i] = opts.BarData{Value: n}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Trips per day",
			Subtitle: "closed trips, all devices",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(dates).AddSeries("trips", data)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bar.Render(w); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "failed to render chart: "+err.Error())
	}
}
