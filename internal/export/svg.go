package export

import (
	"fmt"
	"strings"

	"github.com/san-kum/batchsim/internal/viz"
)

const svgHeader = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`

// CanvasToSVG draws every set braille dot of canvas as a circle. scale is
// the size of one dot cell in pixels.
func CanvasToSVG(canvas *viz.Canvas, scale int) string {
	if canvas == nil || scale <= 0 {
		return ""
	}

	width, height := canvas.Width*2*scale, canvas.Height*4*scale
	var sb strings.Builder
	fmt.Fprintf(&sb, svgHeader, width, height, width, height)
	sb.WriteString(`<g fill="#00ff00">` + "\n")

	bits := [4][2]rune{{0x01, 0x08}, {0x02, 0x10}, {0x04, 0x20}, {0x40, 0x80}}
	r := float64(scale) * 0.4
	for row := 0; row < canvas.Height; row++ {
		for col := 0; col < canvas.Width; col++ {
			pattern := canvas.Grid[row][col] - 0x2800
			if pattern <= 0 {
				continue
			}
			for dy := 0; dy < 4; dy++ {
				for dx := 0; dx < 2; dx++ {
					if pattern&bits[dy][dx] == 0 {
						continue
					}
					cx := float64((col*2+dx)*scale) + float64(scale)/2
					cy := float64((row*4+dy)*scale) + float64(scale)/2
					fmt.Fprintf(&sb, "<circle cx=\"%.1f\" cy=\"%.1f\" r=\"%.1f\"/>\n", cx, cy, r)
				}
			}
		}
	}

	sb.WriteString("</g>\n</svg>\n")
	return sb.String()
}

// DepthToSVG renders a w x h depth image as grayscale pixels, nearest
// surfaces brightest.
func DepthToSVG(depth []float32, w, h, scale int) (string, error) {
	if w <= 0 || h <= 0 || scale <= 0 {
		return "", fmt.Errorf("export: invalid image size %dx%d scale %d", w, h, scale)
	}
	if len(depth) < w*h {
		return "", fmt.Errorf("export: depth has %d values, need %d", len(depth), w*h)
	}

	lo, hi := depth[0], depth[0]
	for _, d := range depth[:w*h] {
		lo, hi = min(lo, d), max(hi, d)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, svgHeader, w*scale, h*scale, w*scale, h*scale)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 255 - int((depth[y*w+x]-lo)/span*255)
			fmt.Fprintf(&sb, "<rect x=\"%d\" y=\"%d\" width=\"%d\" height=\"%d\" fill=\"#%02x%02x%02x\"/>\n",
				x*scale, y*scale, scale, scale, v, v, v)
		}
	}
	sb.WriteString("</svg>\n")
	return sb.String(), nil
}

// LatencyToSVG draws per-step latencies as a polyline, step index on x.
func LatencyToSVG(latencies []float64, width, height int, stroke string) string {
	if len(latencies) < 2 {
		return ""
	}

	lo, hi := latencies[0], latencies[0]
	for _, v := range latencies {
		lo, hi = min(lo, v), max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	lo -= span * 0.1
	span *= 1.2

	var sb strings.Builder
	fmt.Fprintf(&sb, svgHeader, width, height, width, height)
	fmt.Fprintf(&sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="`, stroke)

	last := float64(len(latencies) - 1)
	for i, v := range latencies {
		x := float64(i) / last * float64(width)
		y := float64(height) - (v-lo)/span*float64(height)
		if i == 0 {
			fmt.Fprintf(&sb, "M%.1f,%.1f", x, y)
		} else {
			fmt.Fprintf(&sb, " L%.1f,%.1f", x, y)
		}
	}

	sb.WriteString("\"/>\n</svg>\n")
	return sb.String()
}
