package server

import (
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/gorilla/mux"

	"github.com/parkpulse/parkpulse/pkg/config"
	"github.com/parkpulse/parkpulse/pkg/httpx"
)

// HandleDailyChart renders one attraction-day as an HTML bar chart of
// average standby wait per hour, built from the daily stat's hour digest.
func (h *Handler) HandleDailyChart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqContext(r, config.ChartTimeout)
	defer cancel()

	vars := mux.Vars(r)
	id, date := vars["id"], vars["date"]
	if !validDate(date) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	stat, err := h.store.Daily(ctx, id, date)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	labels := make([]string, 0, 24)
	standby := make([]opts.BarData, 0, 24)
	singleRider := make([]opts.BarData, 0, 24)
	for _, d := range stat.Hours {
		labels = append(labels, fmt.Sprintf("%02d:00", d.Hour))
		standby = append(standby, opts.BarData{Value: d.AvgStandby})
		singleRider = append(singleRider, opts.BarData{Value: d.AvgSingleRider})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("%s %s", id, date),
			Width:     "900px",
			Height:    "500px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Average wait by hour, %s", date),
			Subtitle: fmt.Sprintf("attraction %s", id),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("standby", standby).
		AddSeries("single rider", singleRider)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bar.Render(w); err != nil {
		h.log.Warnf("render daily chart: %v", err)
	}
}
