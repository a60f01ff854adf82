package export

import (
	"bufio"
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/akmonengine/linkage/internal/runner"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var ErrNoData = errors.New("export: no data to plot")

// Options size the exported charts.
type Options struct {
	Width, Height float64 // inches
	DPI           int
}

func DefaultOptions() Options {
	return Options{Width: 8, Height: 5, DPI: 150}
}

var palette = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
	{R: 140, G: 86, B: 75, A: 255},
}

func limitedTicker(maxLabels int, labelFmt string) plot.Ticker {
	if maxLabels < 2 {
		maxLabels = 2
	}
	return plot.TickerFunc(func(min, max float64) []plot.Tick {
		if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
			return nil
		}
		if min == max {
			return []plot.Tick{{Value: min, Label: fmt.Sprintf(labelFmt, min)}}
		}
		step := (max - min) / float64(maxLabels-1)
		ticks := make([]plot.Tick, 0, maxLabels)
		for i := 0; i < maxLabels; i++ {
			v := min + float64(i)*step
			ticks = append(ticks, plot.Tick{Value: v, Label: fmt.Sprintf(labelFmt, v)})
		}
		return ticks
	})
}

func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.Title.Padding = vg.Points(8)
	p.X.Label.TextStyle.Font.Size = vg.Points(12)
	p.Y.Label.TextStyle.Font.Size = vg.Points(12)
	p.X.Padding = vg.Points(10)
	p.Y.Padding = vg.Points(10)
	p.X.Tick.Marker = limitedTicker(8, "%.3g")
	p.Y.Tick.Marker = limitedTicker(8, "%.3g")
	p.Add(plotter.NewGrid())
}

// SavePNG renders p into filename.
func SavePNG(p *plot.Plot, filename string, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(opts.Width)*vg.Inch, vg.Length(opts.Height)*vg.Inch),
		vgimg.UseDPI(opts.DPI),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return bw.Flush()
}

// ChannelPlot draws the named channels of a table against time, on one
// chart with a legend.
func ChannelPlot(table *runner.Table, title string, names ...string) (*plot.Plot, error) {
	if table.Len() == 0 || len(names) == 0 {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	if len(names) == 1 {
		p.Y.Label.Text = names[0]
	}
	stylePlot(p)

	for i, name := range names {
		column, err := table.Column(name)
		if err != nil {
			return nil, err
		}
		pts := make(plotter.XYs, len(column))
		for k := range column {
			pts[k].X = table.Times[k]
			pts[k].Y = column[k]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = palette[i%len(palette)]
		p.Add(line)
		if len(names) > 1 {
			p.Legend.Add(name, line)
		}
	}
	p.Legend.Top = true
	return p, nil
}

// Channels writes one PNG per channel into dir and returns the written
// paths. With no names every channel is exported.
func Channels(dir string, table *runner.Table, opts Options, names ...string) ([]string, error) {
	if len(names) == 0 {
		names = table.Names
	}
	var written []string
	for _, name := range names {
		p, err := ChannelPlot(table, name, name)
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, fileName(name)+".png")
		if err := SavePNG(p, path, opts); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func fileName(channel string) string {
	return strings.NewReplacer(".", "_", "/", "_", " ", "_").Replace(channel)
}
