package monitor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"github.com/banshee-data/facetrack/internal/httputil"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// DefaultChannels are charted when a request names none.
var DefaultChannels = []string{"roll", "pitch", "yaw"}

// ParseChannels resolves a comma-separated channel list. Empty means
// DefaultChannels.
func ParseChannels(list string) ([]int, error) {
	names := DefaultChannels
	if strings.TrimSpace(list) != "" {
		names = strings.Split(list, ",")
	}
	out := make([]int, 0, len(names))
	for _, n := range names {
		i, err := ChannelIndex(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

// channelLine builds one raw-vs-stabilized line chart.
func channelLine(samples []Sample, channel int, subtitle string) *charts.Line {
	x := make([]int64, len(samples))
	raw := make([]opts.LineData, len(samples))
	stab := make([]opts.LineData, len(samples))
	for i, s := range samples {
		x[i] = s.Index
		raw[i] = opts.LineData{Value: s.Raw[channel]}
		stab[i] = opts.LineData{Value: s.Values[channel]}
	}

	name := pipeline.OutputNames[channel]
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Channel " + name, Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: name, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x).
		AddSeries("raw", raw).
		AddSeries("stabilized", stab)
	return line
}

// RenderChannels writes an HTML page with one chart per channel.
func RenderChannels(w io.Writer, samples []Sample, channels []int) error {
	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	report := JitterReport(samples)
	for _, ch := range channels {
		j := report[ch]
		sub := fmt.Sprintf("samples=%d jitter raw=%.4f stabilized=%.4f", len(samples), j.Raw, j.Stabilized)
		page.AddCharts(channelLine(samples, ch, sub))
	}
	return page.Render(w)
}

// Handler serves the live channel history:
//
//	GET ?channel=yaw,ear_left  HTML charts (default roll,pitch,yaw)
//	GET ?format=png&channel=yaw  PNG plot of one channel
//	GET ?format=json           jitter report
type Handler struct {
	recorder *ChannelRecorder
}

// NewHandler serves rec.
func NewHandler(rec *ChannelRecorder) *Handler {
	return &Handler{recorder: rec}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	channels, err := ParseChannels(r.URL.Query().Get("channel"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	samples := h.recorder.Snapshot()

	switch r.URL.Query().Get("format") {
	case "json":
		httputil.WriteJSONOK(w, JitterReport(samples))
	case "png":
		var buf bytes.Buffer
		if err := WritePlot(&buf, samples, channels[0]); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	case "", "html":
		var buf bytes.Buffer
		if err := RenderChannels(&buf, samples, channels); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	default:
		httputil.BadRequest(w, "format must be html, png or json")
	}
}
