package engine

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func affineTable() *WarpTable {
	t := &WarpTable{Device: "DLPLightCrafter3010", Date: "2022-02-02"}
	for _, p := range []Point{{0, 0}, {100, 0}, {0, 100}, {100, 100}, {50, 20}} {
		t.Src = append(t.Src, p)
		t.Dst = append(t.Dst, Point{2*p[0] + 0.5*p[1] + 10, -p[0] + 3*p[1] - 4})
	}
	return t
}

func TestFitAffineExact(t *testing.T) {
	table := affineTable()
	fit, err := table.FitAffine()
	require.NoError(t, err)

	want := [2][3]float64{{2, 0.5, 10}, {-1, 3, -4}}
	for r := range want {
		for c := range want[r] {
			assert.InDelta(t, want[r][c], fit.Coef[r][c], 1e-9)
		}
	}
	assert.InDelta(t, 0, table.Residual(fit), 1e-9)

	x, y := fit.Apply(10, 10)
	assert.InDelta(t, 35, x, 1e-9)
	assert.InDelta(t, 16, y, 1e-9)
}

func TestFitAffineResidual(t *testing.T) {
	table := affineTable()
	table.Dst[4][0] += 5
	fit, err := table.FitAffine()
	require.NoError(t, err)
	assert.Greater(t, table.Residual(fit), 0.1)
}

func TestWarpTableValidate(t *testing.T) {
	table := &WarpTable{Src: []Point{{0, 0}, {1, 0}}, Dst: []Point{{0, 0}, {1, 0}}}
	assert.ErrorIs(t, table.Validate(), ErrInvalidArgument)

	table = affineTable()
	table.Dst = table.Dst[:3]
	_, err := table.FitAffine()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFindWarpTable(t *testing.T) {
	dir := t.TempDir()
	table := affineTable()
	require.NoError(t, table.Save(filepath.Join(dir, "DLPLightCrafter3010-2022-02-02.yaml")))
	other := affineTable()
	other.Date = "2023-01-01"
	require.NoError(t, other.Save(filepath.Join(dir, "DLPLightCrafter3010-2023-01-01.yaml")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	got, path, err := FindWarpTable(dir, "DLPLightCrafter3010", "2022-02-02")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "DLPLightCrafter3010-2022-02-02.yaml"), path)
	assert.Equal(t, table.Src, got.Src)
	assert.Equal(t, "2022-02-02", got.Date)

	_, _, err = FindWarpTable(dir, "DLPLightCrafter3010", "1999-01-01")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
