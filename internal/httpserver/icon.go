package httpserver

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"

	"journalshare/internal/fsutil"
)

// IconSize is the rendered icon canvas, in pixels.
const IconSize = 50

// Icons are rasterized at double size and downsampled for smoother edges.
const iconSupersample = 2

var doctypeRe = regexp.MustCompile(`(?s)<!DOCTYPE.*?(\[.*?\])?>`)

// handleIcon renders /icon/{name}_{strokeColor}_{fillColor}: the named SVG
// from the web asset dir, recolored, rasterized to a 50x50 canvas over a
// white background, returned as PNG. Rendered on demand, not cached.
func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	req := strings.TrimPrefix(r.URL.Path, "/icon/")
	parts := strings.Split(req, "_")
	if len(parts) != 3 {
		http.Error(w, "bad icon request", http.StatusBadRequest)
		return
	}
	name, stroke, fill := parts[0], parts[1], parts[2]

	abs, err := fsutil.JoinWithinRoot(s.webDir, "images/"+name+".svg")
	if err != nil {
		http.Error(w, "bad icon name", http.StatusBadRequest)
		return
	}
	svg, err := os.ReadFile(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	out, err := renderIcon(svg, "#"+stroke, "#"+fill, IconSize)
	if err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(out)
}

// renderIcon substitutes the journal color entities in svg, rasterizes, and
// composites the result over white.
func renderIcon(svg []byte, stroke, fill string, size int) ([]byte, error) {
	src := recolorSVG(svg, stroke, fill)

	icon, err := oksvg.ReadIconStream(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	big := size * iconSupersample
	icon.SetTarget(0, 0, float64(big), float64(big))
	rendered := image.NewRGBA(image.Rect(0, 0, big, big))
	scanner := rasterx.NewScannerGV(big, big, rendered, rendered.Bounds())
	icon.Draw(rasterx.NewDasher(big, big, scanner), 1.0)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), rendered, rendered.Bounds(), draw.Over, nil)

	var out bytes.Buffer
	if err := png.Encode(&out, dst); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// recolorSVG rewrites the stroke_color/fill_color entity references the
// journal's icons use and drops the DOCTYPE that declared them, since the
// XML parser does not resolve custom entities.
func recolorSVG(svg []byte, stroke, fill string) []byte {
	svg = doctypeRe.ReplaceAll(svg, nil)
	svg = bytes.ReplaceAll(svg, []byte("&stroke_color;"), []byte(stroke))
	svg = bytes.ReplaceAll(svg, []byte("&fill_color;"), []byte(fill))
	return svg
}
