package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/simplui/simplui/internal/catalog"
	"github.com/simplui/simplui/internal/orchestrator"
	"github.com/simplui/simplui/internal/workflow"
	"github.com/spf13/cobra"
)

var (
	genWorkflow string
	genPrompt   string
	genCount    int
	genOut      string
	genSets     []string
)

var generateCmd = &cobra.Command{
	Use:     "generate",
	Short:   "Run one batch and write the images to a directory",
	GroupID: "run",
	Example: `  simplui generate -w txt2img -p "a lighthouse at dusk" -n 4 -o out/
  simplui generate -w txt2img --set 3.steps=30 --set 3.seed=42 --set 3.seed.randomize=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if genCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}
		overrides, err := parseSets(genSets)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := newComfyClient()
		if err != nil {
			return err
		}
		req, err := catalog.New(cfg, client, logger).Request(ctx, catalog.BatchParams{
			Workflow:   genWorkflow,
			Prompt:     genPrompt,
			Overrides:  overrides,
			BatchCount: genCount,
		})
		if err != nil {
			return err
		}

		o := orchestrator.New(orchestrator.NewComfyEngine(client), orchestrator.WithLogger(logger))
		b, err := o.Start(ctx, req)
		if err != nil {
			return err
		}
		go func() {
			select {
			case <-ctx.Done():
				b.Stop()
			case <-b.Done():
			}
		}()

		progress := cmd.ErrOrStderr()
		last := ""
		for st := range b.States() {
			if st.Status != last && !jsonOutput {
				fmt.Fprintln(progress, st.Status)
				last = st.Status
			}
		}

		final, runErr := b.Wait()
		if final.Phase == orchestrator.PhaseStopped && !jsonOutput {
			fmt.Fprintln(progress, final.Status)
		}

		files, err := writeImages(genOut, genWorkflow, final.Completed)
		if err != nil {
			return err
		}
		if err := printResult(cmd.OutOrStdout(), final, files); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	generateCmd.Flags().StringVarP(&genWorkflow, "workflow", "w", "", "configured workflow name")
	generateCmd.Flags().StringVarP(&genPrompt, "prompt", "p", "", "prompt text")
	generateCmd.Flags().IntVarP(&genCount, "count", "n", 1, "number of images in the batch")
	generateCmd.Flags().StringVarP(&genOut, "out", "o", ".", "output directory")
	generateCmd.Flags().StringArrayVar(&genSets, "set", nil, "override as <node>.<field>=<value> (repeatable)")
	_ = generateCmd.MarkFlagRequired("workflow")
}

// parseSets turns key=value flags into overrides. Values that parse as JSON
// scalars keep their type; anything else is a string.
func parseSets(sets []string) (workflow.Overrides, error) {
	o := workflow.Overrides{}
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q: want <node>.<field>=<value>", s)
		}
		if _, _, ok := workflow.SplitKey(key); !ok {
			return nil, fmt.Errorf("invalid --set key %q: want <node>.<field>", key)
		}
		o[key] = parseValue(raw)
	}
	return o, nil
}

func parseValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	switch v.(type) {
	case json.Number, bool:
		return v
	}
	return raw
}

func imageExt(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ".bin"
}

func writeImages(dir, name string, images [][]byte) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	files := make([]string, 0, len(images))
	for i, img := range images {
		path := filepath.Join(dir, fmt.Sprintf("%s-%03d%s", name, i+1, imageExt(img)))
		if err := os.WriteFile(path, img, 0o644); err != nil {
			return files, fmt.Errorf("write %s: %w", path, err)
		}
		files = append(files, path)
	}
	return files, nil
}

type generateResult struct {
	Status    string            `json:"status"`
	Phase     string            `json:"phase"`
	Files     []string          `json:"files"`
	BaseSeeds map[string]uint64 `json:"base_seeds,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func printResult(w io.Writer, st orchestrator.State, files []string) error {
	if jsonOutput {
		res := generateResult{Status: st.Status, Phase: string(st.Phase), Files: files, BaseSeeds: st.BaseSeeds}
		if st.Err != nil {
			res.Error = st.Err.Error()
		}
		return printJSON(w, res)
	}

	var buf bytes.Buffer
	keys := make([]string, 0, len(st.BaseSeeds))
	for k := range st.BaseSeeds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "seed %s = %d\n", k, st.BaseSeeds[k])
	}
	for _, f := range files {
		fmt.Fprintln(&buf, f)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
