package engine

import (
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Point is a 2-D control point in pixels.
type Point [2]float64

// WarpTable pairs screen control points (Src) with where they land on the
// projection surface (Dst) for one projector calibrated on one date.
type WarpTable struct {
	Device string  `yaml:"device"`
	Date   string  `yaml:"date"`
	Src    []Point `yaml:"src"`
	Dst    []Point `yaml:"dst"`
}

// FindWarpTable loads the first table under dir (in lexical order) whose
// file name contains both device and date.
func FindWarpTable(dir, device, date string) (*WarpTable, string, error) {
	var matches []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.Contains(name, device) && strings.Contains(name, date) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("search warp tables: %w", err)
	}
	if len(matches) == 0 {
		return nil, "", fmt.Errorf("no lookup table found for %s on %s in %s: %w", device, date, dir, fs.ErrNotExist)
	}
	sort.Strings(matches)
	t, err := LoadWarpTable(matches[0])
	if err != nil {
		return nil, "", err
	}
	return t, matches[0], nil
}

func LoadWarpTable(path string) (*WarpTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t WarpTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse warp table %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &t, nil
}

func (t *WarpTable) Save(path string) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (t *WarpTable) Validate() error {
	if len(t.Src) != len(t.Dst) {
		return fmt.Errorf("%d source points for %d destination points: %w", len(t.Src), len(t.Dst), ErrInvalidArgument)
	}
	if len(t.Src) < 3 {
		return fmt.Errorf("%d control points, need at least 3: %w", len(t.Src), ErrInvalidArgument)
	}
	return nil
}

// Affine maps (x, y) to (a*x + b*y + c, d*x + e*y + f).
type Affine struct {
	Coef [2][3]float64
}

func (a Affine) Apply(x, y float64) (float64, float64) {
	c := a.Coef
	return c[0][0]*x + c[0][1]*y + c[0][2], c[1][0]*x + c[1][1]*y + c[1][2]
}

// FitAffine returns the least-squares affine map from Src to Dst.
func (t *WarpTable) FitAffine() (Affine, error) {
	if err := t.Validate(); err != nil {
		return Affine{}, err
	}
	n := len(t.Src)
	a := mat.NewDense(n, 3, nil)
	b := mat.NewDense(n, 2, nil)
	for i := range t.Src {
		a.SetRow(i, []float64{t.Src[i][0], t.Src[i][1], 1})
		b.SetRow(i, []float64{t.Dst[i][0], t.Dst[i][1]})
	}
	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		return Affine{}, fmt.Errorf("fit affine warp: %w", err)
	}
	var out Affine
	for row := 0; row < 2; row++ {
		for col := 0; col < 3; col++ {
			out.Coef[row][col] = x.At(col, row)
		}
	}
	return out, nil
}

// Residual is the root mean square distance between the mapped Src points
// and Dst.
func (t *WarpTable) Residual(a Affine) float64 {
	if len(t.Src) == 0 {
		return 0
	}
	var sum float64
	for i, p := range t.Src {
		x, y := a.Apply(p[0], p[1])
		dx, dy := x-t.Dst[i][0], y-t.Dst[i][1]
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum / float64(len(t.Src)))
}
