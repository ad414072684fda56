// Package chart renders feature attributions as PNG images.
package chart

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

const (
	// TopN is the number of attributions drawn individually.
	TopN = 10

	// AxisCaption marks which direction pushes the decision where.
	AxisCaption = "<-- accepted | rejected -->"

	Width  = 14 * vg.Inch
	Height = 6 * vg.Inch

	barWidthRatio = 0.7
)

// Style selects how attributions are drawn.
type Style string

const (
	StyleWaterfall Style = "waterfall"
	StyleBar       Style = "bar"
)

var (
	colorRejected = color.RGBA{R: 0xff, G: 0x00, B: 0x51, A: 0xff}
	colorAccepted = color.RGBA{R: 0x00, G: 0x8b, B: 0xfb, A: 0xff}
	colorBase     = color.Gray{Y: 0x80}
)

// ParseStyle maps a style name to a Style. Unknown names select the waterfall.
func ParseStyle(s string) Style {
	switch Style(strings.ToLower(strings.TrimSpace(s))) {
	case StyleBar:
		return StyleBar
	default:
		return StyleWaterfall
	}
}

// Bar is one labeled attribution.
type Bar struct {
	Label string
	Value float64
}

// Render draws the leading TopN bars in the given style and writes a PNG to w.
// Bars are expected sorted by absolute value, largest first. In the waterfall
// style the remaining bars are folded into a single "other features" bar and
// accumulation starts from base.
func Render(w io.Writer, style Style, base float64, bars []Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("nothing to render")
	}

	p := plot.New()
	p.X.Label.Text = AxisCaption
	p.Add(plotter.NewGrid())

	var err error
	switch style {
	case StyleBar:
		err = addBars(p, bars)
	default:
		err = addWaterfall(p, base, bars)
	}
	if err != nil {
		return err
	}

	wt, err := p.WriterTo(Width, Height, "png")
	if err != nil {
		return fmt.Errorf("creating png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("writing png: %w", err)
	}
	return nil
}

// bottomUp returns the leading n bars with the largest last, so it is drawn
// at the top of the chart.
func bottomUp(bars []Bar, n int) []Bar {
	if n > len(bars) {
		n = len(bars)
	}
	out := make([]Bar, n)
	for i := range n {
		out[n-1-i] = sanitize(bars[i])
	}
	return out
}

func sanitize(b Bar) Bar {
	if math.IsNaN(b.Value) || math.IsInf(b.Value, 0) {
		b.Value = 0
	}
	return b
}

func labels(bars []Bar) []string {
	l := make([]string, len(bars))
	for i, b := range bars {
		l[i] = fmt.Sprintf("%s = %+.3f", b.Label, b.Value)
	}
	return l
}

func addBars(p *plot.Plot, bars []Bar) error {
	shown := bottomUp(bars, TopN)

	pos := make(plotter.Values, len(shown))
	neg := make(plotter.Values, len(shown))
	for i, b := range shown {
		if b.Value > 0 {
			pos[i] = b.Value
		} else {
			neg[i] = b.Value
		}
	}

	width := vg.Points(Height.Points() / float64(len(shown)+2) * barWidthRatio)
	for _, s := range []struct {
		values plotter.Values
		color  color.Color
	}{
		{pos, colorRejected},
		{neg, colorAccepted},
	} {
		bc, err := plotter.NewBarChart(s.values, width)
		if err != nil {
			return fmt.Errorf("creating bar chart: %w", err)
		}
		bc.Horizontal = true
		bc.Color = s.color
		bc.LineStyle.Width = 0
		p.Add(bc)
	}

	p.NominalY(labels(shown)...)
	return nil
}

func addWaterfall(p *plot.Plot, base float64, bars []Bar) error {
	shown := bottomUp(bars, TopN)
	if len(bars) > TopN {
		rest := 0.0
		for _, b := range bars[TopN:] {
			rest += sanitize(b).Value
		}
		other := Bar{Label: fmt.Sprintf("%d other features", len(bars)-TopN), Value: rest}
		shown = append([]Bar{other}, shown...)
	}

	wf := &waterfall{base: base, bars: shown}
	p.Add(wf)

	end := wf.end()
	baseLine, err := plotter.NewLine(plotter.XYs{{X: base, Y: -0.5}, {X: base, Y: float64(len(shown)) - 0.5}})
	if err != nil {
		return fmt.Errorf("creating base line: %w", err)
	}
	baseLine.Color = colorBase
	baseLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(baseLine)

	p.Title.Text = fmt.Sprintf("base %.3f  ->  output %.3f", base, end)
	p.NominalY(labels(shown)...)
	return nil
}

// waterfall draws each bar as a floating segment that starts where the
// previous one ended.
type waterfall struct {
	base float64
	bars []Bar
}

func (w *waterfall) end() float64 {
	v := w.base
	for _, b := range w.bars {
		v += b.Value
	}
	return v
}

func (w *waterfall) Plot(c draw.Canvas, plt *plot.Plot) {
	trX, trY := plt.Transforms(&c)
	half := barWidthRatio / 2

	start := w.base
	for i, b := range w.bars {
		end := start + b.Value
		y := float64(i)
		x0, x1 := trX(start), trX(end)
		y0, y1 := trY(y-half), trY(y+half)

		clr := color.Color(colorAccepted)
		if b.Value > 0 {
			clr = colorRejected
		}

		pts := []vg.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
		c.FillPolygon(clr, c.ClipPolygonXY(pts))
		start = end
	}
}

func (w *waterfall) DataRange() (xmin, xmax, ymin, ymax float64) {
	xmin, xmax = w.base, w.base
	v := w.base
	for _, b := range w.bars {
		v += b.Value
		xmin = math.Min(xmin, v)
		xmax = math.Max(xmax, v)
	}
	return xmin, xmax, -0.5, float64(len(w.bars)) - 0.5
}
