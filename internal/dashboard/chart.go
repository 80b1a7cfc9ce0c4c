package dashboard

import (
	"bytes"
	"net/http"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// statusColors mirrors a traffic-light palette: healthy states cool, failure
// states warm.
var statusColors = map[string]drawing.Color{
	"queued":     drawing.ColorFromHex("94a3b8"),
	"processing": drawing.ColorFromHex("2563eb"),
	"completed":  drawing.ColorFromHex("16a34a"),
	"failed":     drawing.ColorFromHex("dc2626"),
	"retrying":   drawing.ColorFromHex("d97706"),
}

// handleStatsChart implements GET /stats/chart.png: a bar chart of execution
// counts per status, grounded on the teacher's RenderGrowthChart (same
// chart.Chart{}/chart.Style{} construction, PNG bytes via bytes.Buffer).
func (s *Server) handleStatsChart(w http.ResponseWriter, r *http.Request) {
	st, err := s.computeStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	counts := map[string]int{
		"queued":     st.Queued,
		"processing": st.Processing,
		"completed":  st.Completed,
		"failed":     st.Failed,
		"retrying":   st.Retrying,
	}

	bars := make([]chart.Value, 0, len(statusOrder))
	for _, status := range statusOrder {
		key := string(status)
		bars = append(bars, chart.Value{
			Label: key,
			Value: float64(counts[key]),
			Style: chart.Style{
				FillColor:   statusColors[key],
				StrokeColor: statusColors[key],
			},
		})
	}

	graph := chart.BarChart{
		Title:  "Execution status counts",
		Width:  640,
		Height: 360,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 20},
		},
		BarWidth: 60,
		Bars:     bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		writeError(w, http.StatusInternalServerError, "chart render failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
