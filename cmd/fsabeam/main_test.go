package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsabeam/pkg/config"
	"fsabeam/pkg/visualization"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "init", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	_, err = execute(t, "config", "init", "--path", path)
	assert.Error(t, err)

	_, err = execute(t, "config", "init", "--path", path, "--force")
	assert.NoError(t, err)
}

func TestRunRequiresDataset(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestSimulateAndRun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	datasetDir := filepath.Join(dir, "dataset")
	outputDir := filepath.Join(dir, "out")

	cfg := config.DefaultConfig()
	cfg.Grid.XMin, cfg.Grid.XMax, cfg.Grid.NX = -2e-3, 2e-3, 9
	cfg.Grid.ZMin, cfg.Grid.ZMax, cfg.Grid.NZ = 13e-3, 17e-3, 33
	cfg.Output.Verbose = false
	cfg.Output.MetricsFile = "metrics.prom"
	require.NoError(t, config.SaveConfig(cfg, configPath))

	_, err := execute(t, "simulate", "--config", configPath, "--out", datasetDir,
		"--elements", "8", "--samples", "1024", "--focus", "0.015")
	require.NoError(t, err)

	_, err = execute(t, "run", "--config", configPath, "--dataset", datasetDir,
		"--output", outputDir, "--workers", "2")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(outputDir, "bmode.png"))
	assert.FileExists(t, filepath.Join(outputDir, "metrics.prom"))

	img, err := visualization.LoadArray(filepath.Join(outputDir, "image.bin"))
	require.NoError(t, err)
	rows, cols := img.Dims()
	assert.Equal(t, 33, rows)
	assert.Equal(t, 9, cols)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "a.png"), outputPath("out", "a.png"))
	assert.Equal(t, "/abs/a.png", outputPath("out", "/abs/a.png"))
	assert.Equal(t, "", outputPath("out", ""))
}
