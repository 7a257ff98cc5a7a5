package engine

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/blur"
)

// AlphaMask builds a width x height opacity mask that is high inside and
// low within margin pixels of the border, feathered with a Gaussian of the
// given radius and clipped to [-1, 1]. Rows are indexed first.
func AlphaMask(width, height, margin int, sigma, low, high float64) ([][]float64, error) {
	if width <= 0 || height <= 0 || margin < 0 || 2*margin > width || 2*margin > height {
		return nil, fmt.Errorf("mask %dx%d with margin %d: %w", width, height, margin, ErrInvalidArgument)
	}
	if high <= low {
		return nil, fmt.Errorf("mask range [%v, %v]: %w", low, high, ErrInvalidArgument)
	}
	src := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x >= margin && x < width-margin && y >= margin && y < height-margin {
				src.Pix[src.PixOffset(x, y)] = 255
			}
		}
	}
	blurred := blur.Gaussian(src, sigma)

	mask := make([][]float64, height)
	for y := range mask {
		row := make([]float64, width)
		for x := range row {
			v := float64(blurred.Pix[blurred.PixOffset(x, y)]) / 255
			row[x] = clip(low+v*(high-low), -1, 1)
		}
		mask[y] = row
	}
	return mask, nil
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
