package monitor

import (
	"fmt"
	"image/color"
	"io"

	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	rawColor        = color.RGBA{R: 200, G: 80, B: 80, A: 255}
	stabilizedColor = color.RGBA{R: 40, G: 90, B: 200, A: 255}
)

// newChannelPlot draws raw and stabilized traces of one channel.
func newChannelPlot(samples []Sample, channel int) (*plot.Plot, error) {
	if channel < 0 || channel >= pipeline.NumOutputValues {
		return nil, fmt.Errorf("channel %d out of range", channel)
	}
	name := pipeline.OutputNames[channel]
	j := JitterReport(samples)[channel]

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (jitter raw %.4f, stabilized %.4f)", name, j.Raw, j.Stabilized)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = name

	rawPts := make(plotter.XYs, len(samples))
	stabPts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		rawPts[i] = plotter.XY{X: float64(s.Index), Y: s.Raw[channel]}
		stabPts[i] = plotter.XY{X: float64(s.Index), Y: s.Values[channel]}
	}

	if len(samples) > 0 {
		rawLine, err := plotter.NewLine(rawPts)
		if err != nil {
			return nil, err
		}
		rawLine.Color = rawColor
		rawLine.Width = vg.Points(1)
		p.Add(rawLine)
		p.Legend.Add("raw", rawLine)

		stabLine, err := plotter.NewLine(stabPts)
		if err != nil {
			return nil, err
		}
		stabLine.Color = stabilizedColor
		stabLine.Width = vg.Points(1.5)
		p.Add(stabLine)
		p.Legend.Add("stabilized", stabLine)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePlot renders one channel as PNG to w.
func WritePlot(w io.Writer, samples []Sample, channel int) error {
	p, err := newChannelPlot(samples, channel)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlot writes one channel to a PNG file.
func SavePlot(path string, samples []Sample, channel int) error {
	p, err := newChannelPlot(samples, channel)
	if err != nil {
		return err
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s plot: %w", pipeline.OutputNames[channel], err)
	}
	return nil
}
