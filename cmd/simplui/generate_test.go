package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/simplui/simplui/internal/orchestrator"
	"github.com/simplui/simplui/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSets(t *testing.T) {
	o, err := parseSets([]string{
		"3.steps=30",
		"3.cfg=7.5",
		"3.seed.randomize=false",
		"6.text=a lighthouse, at dusk",
		"4.ckpt_name=model=v2.safetensors",
		`6.text2="quoted"`,
	})
	require.NoError(t, err)

	assert.Equal(t, workflow.Overrides{
		"3.steps":          json.Number("30"),
		"3.cfg":            json.Number("7.5"),
		"3.seed.randomize": false,
		"6.text":           "a lighthouse, at dusk",
		"4.ckpt_name":      "model=v2.safetensors",
		"6.text2":          `"quoted"`,
	}, o)
}

func TestParseSets_Invalid(t *testing.T) {
	for _, s := range []string{"steps", "steps=30", ".steps=30", "3.=30"} {
		_, err := parseSets([]string{s})
		assert.Error(t, err, s)
	}
}

func TestImageExt(t *testing.T) {
	assert.Equal(t, ".png", imageExt([]byte("\x89PNG\r\n\x1a\nrest")))
	assert.Equal(t, ".jpg", imageExt([]byte("\xff\xd8\xff\xe0rest")))
	assert.Equal(t, ".bin", imageExt([]byte("plain text")))
}

func TestWriteImages(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	files, err := writeImages(dir, "txt2img", [][]byte{[]byte("\x89PNG\r\n\x1a\none"), []byte("two")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "txt2img-001.png"),
		filepath.Join(dir, "txt2img-002.bin"),
	}, files)

	data, err := os.ReadFile(files[1])
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	files, err = writeImages(filepath.Join(t.TempDir(), "never"), "x", nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestPrintResult(t *testing.T) {
	st := orchestrator.State{
		Status:    "Generation complete",
		Phase:     orchestrator.PhaseCompleted,
		BaseSeeds: map[string]uint64{"3.seed": 42, "10.noise_seed": 7},
	}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, st, []string{"out/a.png"}))
	assert.Equal(t, "seed 10.noise_seed = 7\nseed 3.seed = 42\nout/a.png\n", buf.String())

	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })
	buf.Reset()
	require.NoError(t, printResult(&buf, st, []string{"out/a.png"}))

	var res generateResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.Equal(t, "completed", res.Phase)
	assert.Equal(t, uint64(42), res.BaseSeeds["3.seed"])
}
