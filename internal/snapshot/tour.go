package snapshot

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nfnt/resize"
)

// TourOptions configures the crawl-tour GIF.
type TourOptions struct {
	FrameDelay time.Duration // how long each page stays on screen
	MaxWidth   uint
}

// Tour writes an animated GIF with one frame per image, scaled to a common
// size taken from the first frame. It returns the file size.
func Tour(frames []image.Image, outputPath string, opts TourOptions) (int64, error) {
	if len(frames) == 0 {
		return 0, nil
	}
	if opts.FrameDelay <= 0 {
		opts.FrameDelay = 1500 * time.Millisecond
	}
	width := opts.MaxWidth
	if width == 0 {
		width = 800
	}
	bounds := frames[0].Bounds()
	if bounds.Empty() {
		return 0, fmt.Errorf("first frame has empty bounds %v", bounds)
	}
	height := uint(float64(width) * float64(bounds.Dy()) / float64(bounds.Dx()))

	// GIF delays are in hundredths of a second.
	delay := int(opts.FrameDelay / (10 * time.Millisecond))
	g := &gif.GIF{
		Image: make([]*image.Paletted, len(frames)),
		Delay: make([]int, len(frames)),
	}
	palette := buildPalette(frames[0])
	for i, frame := range frames {
		scaled := resize.Resize(width, height, frame, resize.Lanczos3)
		paletted := image.NewPaletted(scaled.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, scaled.Bounds(), scaled, image.Point{})
		g.Image[i] = paletted
		g.Delay[i] = delay
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if err := gif.EncodeAll(f, g); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// LoadDir decodes every PNG in dir in lexical order.
func LoadDir(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	frames := make([]image.Image, 0, len(names))
	for _, n := range names {
		img, err := Open(filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return frames, nil
}

// buildPalette picks the 255 most frequent colors of a sampled image plus
// transparency, padding with grays.
func buildPalette(img image.Image) color.Palette {
	bounds := img.Bounds()
	counts := make(map[color.RGBA]int)
	const step = 4
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, a := img.At(x, y).RGBA()
			counts[color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}]++
		}
	}

	type colorCount struct {
		c     color.RGBA
		count int
	}
	ranked := make([]colorCount, 0, len(counts))
	for c, n := range counts {
		ranked = append(ranked, colorCount{c, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		a, b := ranked[i].c, ranked[j].c
		if a.R != b.R {
			return a.R < b.R
		}
		if a.G != b.G {
			return a.G < b.G
		}
		return a.B < b.B
	})

	palette := make(color.Palette, 0, 256)
	palette = append(palette, color.RGBA{})
	for i := 0; i < len(ranked) && len(palette) < 256; i++ {
		palette = append(palette, ranked[i].c)
	}
	for len(palette) < 256 {
		gray := uint8(len(palette))
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}
