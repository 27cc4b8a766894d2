// Package focus locates the flower region in a captured frame so the remote
// model sees a tight crop instead of a full scene of foliage. Detection is
// purely local: a saliency map built from edge strength and color saturation,
// scanned with sliding windows. Gourd flowers are saturated yellow or white
// blooms against green leaves, which is exactly what this measure picks up.
package focus

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// Config tunes the region finder.
type Config struct {
	// EdgeWeight and SaturationWeight blend the two saliency signals.
	EdgeWeight       float64
	SaturationWeight float64
	// MinScore is the saliency below which a window is not a candidate.
	MinScore float64
	// MinRegionRatio is the smallest candidate area as a fraction of the
	// frame area.
	MinRegionRatio float64
	// Padding expands the chosen region on each side, as a fraction of its
	// size, so petal edges are not clipped.
	Padding float64
}

// DefaultConfig returns the tuning used by the scanning pipeline.
func DefaultConfig() Config {
	return Config{
		EdgeWeight:       0.4,
		SaturationWeight: 0.6,
		MinScore:         0.08,
		MinRegionRatio:   0.04,
		Padding:          0.15,
	}
}

// Region is a rectangular area of the frame, in pixels.
type Region struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Score  float64 `json:"score"`
}

// Area returns the region's area in pixels.
func (r Region) Area() int { return r.Width * r.Height }

// Finder detects the flower region in a frame.
type Finder struct {
	cfg Config
}

// New creates a Finder with the default configuration.
func New() *Finder {
	return &Finder{cfg: DefaultConfig()}
}

// NewWithConfig creates a Finder with custom tuning.
func NewWithConfig(cfg Config) *Finder {
	return &Finder{cfg: cfg}
}

// Find returns the most flower-like region of the image. The boolean is
// false when no window clears the saliency floor; callers then send the
// full frame unchanged.
func (f *Finder) Find(img image.Image) (Region, bool) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 16 || h < 16 {
		return Region{}, false
	}

	sal := f.saliencyMap(img)
	candidates := f.scanWindows(sal, w, h)
	if len(candidates) == 0 {
		return Region{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return f.pad(candidates[0], w, h), true
}

// Crop returns the image restricted to the region.
func (f *Finder) Crop(img image.Image, r Region) image.Image {
	return imaging.Crop(img, image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height))
}

// saliencyMap scores each pixel by neighboring color difference and by how
// far its color sits from gray.
func (f *Finder) saliencyMap(img image.Image) [][]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	sal := make([][]float64, h)
	for y := range sal {
		sal[y] = make([]float64, w)
	}

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			r1, g1, b1, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			var edge float64
			for _, off := range [...][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
				r2, g2, b2, _ := img.At(x+off[0]+bounds.Min.X, y+off[1]+bounds.Min.Y).RGBA()
				dr := float64(r1) - float64(r2)
				dg := float64(g1) - float64(g2)
				db := float64(b1) - float64(b2)
				edge += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edge /= 4 * 65535 * math.Sqrt(3)

			sal[y][x] = f.cfg.EdgeWeight*edge + f.cfg.SaturationWeight*saturation(r1, g1, b1)
		}
	}
	return sal
}

// saturation is (max-min)/max over the RGB channels, 0 for gray and black.
func saturation(r, g, b uint32) float64 {
	max := r
	if g > max {
		max = g
	}
	if b > max {
		max = b
	}
	min := r
	if g < min {
		min = g
	}
	if b < min {
		min = b
	}
	if max == 0 {
		return 0
	}
	return float64(max-min) / float64(max)
}

// scanWindows slides square windows of several sizes over the saliency map
// and keeps those clearing the score floor and the minimum area.
func (f *Finder) scanWindows(sal [][]float64, w, h int) []Region {
	short := w
	if h < short {
		short = h
	}
	minArea := int(float64(w*h) * f.cfg.MinRegionRatio)

	var out []Region
	for _, size := range []int{short / 2, short / 3, short / 4} {
		if size < 8 || size*size < minArea {
			continue
		}
		step := size / 4
		if step < 4 {
			step = 4
		}
		for y := 0; y+size <= h; y += step {
			for x := 0; x+size <= w; x += step {
				score := windowScore(sal, x, y, size)
				if score > f.cfg.MinScore {
					out = append(out, Region{X: x, Y: y, Width: size, Height: size, Score: score})
				}
			}
		}
	}
	return out
}

func windowScore(sal [][]float64, x, y, size int) float64 {
	var sum float64
	n := 0
	for ry := y; ry < y+size && ry < len(sal); ry++ {
		row := sal[ry]
		for rx := x; rx < x+size && rx < len(row); rx++ {
			sum += row[rx]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// pad grows the region by the configured padding and clamps it to the frame.
func (f *Finder) pad(r Region, w, h int) Region {
	px := int(float64(r.Width) * f.cfg.Padding)
	py := int(float64(r.Height) * f.cfg.Padding)

	r.X -= px
	r.Y -= py
	r.Width += 2 * px
	r.Height += 2 * py

	if r.X < 0 {
		r.X = 0
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.X+r.Width > w {
		r.Width = w - r.X
	}
	if r.Y+r.Height > h {
		r.Height = h - r.Y
	}
	return r
}
