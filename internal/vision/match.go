// Package vision holds the image-side signal sources of the validation
// engine: template matching against page rasters and the client for the
// external text-recognition service.
package vision

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/jhgiraldo/packaging-backend/internal/common"
	"github.com/jhgiraldo/packaging-backend/internal/pdfdoc"
)

const (
	// maxMatchDim caps the longest page side before correlation. Pages come
	// in at 300 DPI (~2500x3300 px); matching at full resolution is far too
	// slow for a per-request path, so page and template are scaled down by
	// the same factor first.
	maxMatchDim = 1024

	coarseStride   = 4
	refineRadius   = 3
	coarseKeepBest = 8
)

// Scorer computes the maximum normalized cross-correlation of a template
// image over a page raster. Decision policy (thresholds, required vs
// forbidden) belongs to the caller.
type Scorer struct {
	assetsRoot string
	logger     *slog.Logger
}

func NewScorer(assetsRoot string, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{assetsRoot: assetsRoot, logger: logger}
}

// ResolveAsset maps a rule's relative template reference to a path under the
// assets root. References escaping the root are rejected.
func (s *Scorer) ResolveAsset(ref string) (string, error) {
	full := filepath.Join(s.assetsRoot, filepath.FromSlash(ref))
	root := filepath.Clean(s.assetsRoot) + string(filepath.Separator)
	if !strings.HasPrefix(filepath.Clean(full), root) {
		return "", common.NewAppError("ASSET_PATH", fmt.Sprintf("template ref %q escapes assets root", ref), common.ErrAssetNotFound)
	}
	if _, err := os.Stat(full); err != nil {
		return "", common.NewAppError("ASSET_MISSING", fmt.Sprintf("template not found in assets: %s", ref), common.ErrAssetNotFound)
	}
	return full, nil
}

// Score returns the maximum similarity in [-1, 1] of the referenced template
// over all alignments inside the page raster.
func (s *Scorer) Score(page pdfdoc.PageRaster, templateRef string) (float64, error) {
	path, err := s.ResolveAsset(templateRef)
	if err != nil {
		return 0, err
	}
	tmplData, err := os.ReadFile(path)
	if err != nil {
		return 0, common.NewAppError("ASSET_READ", fmt.Sprintf("read template %s", templateRef), common.ErrAssetNotFound)
	}

	pageImg, err := decodeGray(page.PNG)
	if err != nil {
		return 0, common.NewAppError("IMAGE_DECODE", fmt.Sprintf("decode page %d raster", page.PageIndex+1), common.ErrImageDecode)
	}
	tmplImg, err := decodeGray(tmplData)
	if err != nil {
		return 0, common.NewAppError("IMAGE_DECODE", fmt.Sprintf("decode template %s", templateRef), common.ErrImageDecode)
	}

	pageImg, tmplImg = scalePair(pageImg, tmplImg)

	pw, ph := pageImg.Rect.Dx(), pageImg.Rect.Dy()
	tw, th := tmplImg.Rect.Dx(), tmplImg.Rect.Dy()
	if tw == 0 || th == 0 {
		return 0, common.NewAppError("IMAGE_DECODE", fmt.Sprintf("template %s is empty", templateRef), common.ErrImageDecode)
	}
	if tw > pw || th > ph {
		return 0, common.NewAppError("IMAGE_DECODE",
			fmt.Sprintf("template %s (%dx%d) larger than page (%dx%d)", templateRef, tw, th, pw, ph),
			common.ErrImageDecode)
	}

	return matchGray(pageImg, tmplImg), nil
}

func decodeGray(data []byte) (*image.Gray, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return toGray(img), nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(g, g.Rect, img, b.Min, xdraw.Src)
	return g
}

// scalePair shrinks the page so its longest side is at most maxMatchDim and
// applies the same factor to the template, preserving their relative scale.
func scalePair(page, tmpl *image.Gray) (*image.Gray, *image.Gray) {
	longest := page.Rect.Dx()
	if page.Rect.Dy() > longest {
		longest = page.Rect.Dy()
	}
	if longest <= maxMatchDim {
		return page, tmpl
	}
	factor := float64(maxMatchDim) / float64(longest)
	return scaleGray(page, factor), scaleGray(tmpl, factor)
}

func scaleGray(src *image.Gray, factor float64) *image.Gray {
	w := int(math.Round(float64(src.Rect.Dx()) * factor))
	h := int(math.Round(float64(src.Rect.Dy()) * factor))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Rect, xdraw.Src, nil)
	return dst
}

// matchGray computes max zero-normalized cross-correlation of tmpl inside
// page: a coarse strided scan followed by stride-1 refinement around the best
// coarse hits.
func matchGray(page, tmpl *image.Gray) float64 {
	pw, ph := page.Rect.Dx(), page.Rect.Dy()
	tw, th := tmpl.Rect.Dx(), tmpl.Rect.Dy()

	// Zero-mean template and its energy.
	n := float64(tw * th)
	var tSum float64
	for y := 0; y < th; y++ {
		row := tmpl.Pix[y*tmpl.Stride : y*tmpl.Stride+tw]
		for _, v := range row {
			tSum += float64(v)
		}
	}
	tMean := tSum / n
	tvals := make([]float64, tw*th)
	var tEnergy float64
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			d := float64(tmpl.Pix[y*tmpl.Stride+x]) - tMean
			tvals[y*tw+x] = d
			tEnergy += d * d
		}
	}
	if tEnergy == 0 {
		// Flat template: correlation undefined everywhere.
		return 0
	}

	// Integral images of page sum and sum of squares for O(1) window stats.
	iw, ih := pw+1, ph+1
	sum := make([]float64, iw*ih)
	sumSq := make([]float64, iw*ih)
	for y := 0; y < ph; y++ {
		var rowSum, rowSumSq float64
		for x := 0; x < pw; x++ {
			v := float64(page.Pix[y*page.Stride+x])
			rowSum += v
			rowSumSq += v * v
			sum[(y+1)*iw+x+1] = sum[y*iw+x+1] + rowSum
			sumSq[(y+1)*iw+x+1] = sumSq[y*iw+x+1] + rowSumSq
		}
	}
	windowStats := func(x, y int) (winSum, winSumSq float64) {
		x2, y2 := x+tw, y+th
		winSum = sum[y2*iw+x2] - sum[y*iw+x2] - sum[y2*iw+x] + sum[y*iw+x]
		winSumSq = sumSq[y2*iw+x2] - sumSq[y*iw+x2] - sumSq[y2*iw+x] + sumSq[y*iw+x]
		return winSum, winSumSq
	}
	score := func(x, y int) float64 {
		winSum, winSumSq := windowStats(x, y)
		denomI := winSumSq - winSum*winSum/n
		if denomI <= 0 {
			return 0
		}
		var num float64
		for ty := 0; ty < th; ty++ {
			prow := page.Pix[(y+ty)*page.Stride+x : (y+ty)*page.Stride+x+tw]
			trow := tvals[ty*tw : ty*tw+tw]
			for tx, v := range prow {
				num += trow[tx] * float64(v)
			}
		}
		v := num / math.Sqrt(tEnergy*denomI)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		return v
	}

	maxX, maxY := pw-tw, ph-th

	type hit struct {
		x, y int
		v    float64
	}
	var coarse []hit
	for y := 0; ; y += coarseStride {
		if y > maxY {
			break
		}
		for x := 0; ; x += coarseStride {
			if x > maxX {
				break
			}
			coarse = append(coarse, hit{x, y, score(x, y)})
		}
	}
	sort.Slice(coarse, func(i, j int) bool { return coarse[i].v > coarse[j].v })
	if len(coarse) > coarseKeepBest {
		coarse = coarse[:coarseKeepBest]
	}

	best := -1.0
	for _, h := range coarse {
		for dy := -refineRadius; dy <= refineRadius; dy++ {
			for dx := -refineRadius; dx <= refineRadius; dx++ {
				x, y := h.x+dx, h.y+dy
				if x < 0 || y < 0 || x > maxX || y > maxY {
					continue
				}
				if v := score(x, y); v > best {
					best = v
				}
			}
		}
	}
	return best
}
