package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/simplui/simplui/internal/catalog"
	"github.com/simplui/simplui/internal/workflow"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:     "schema [workflow]",
	Short:   "List workflows, or show the editable fields of one",
	GroupID: "run",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newComfyClient()
		if err != nil {
			return err
		}
		cat := catalog.New(cfg, client, logger)
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			names := cat.Names()
			if jsonOutput {
				return printJSON(out, map[string][]string{"workflows": names})
			}
			if len(names) == 0 {
				fmt.Fprintln(out, "No workflows configured.")
			}
			for _, n := range names {
				fmt.Fprintln(out, n)
			}
			return nil
		}

		nodes, err := cat.Schema(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, nodes)
		}
		for _, n := range nodes {
			fmt.Fprintf(out, "%s [%s] (node %s)\n", n.Title, n.ClassType, n.NodeID)
			if d := n.Dimensions; d != nil {
				fmt.Fprintf(out, "  dimensions  %sx%s  %s %s\n", d.Width.Value, d.Height.Value, d.AspectRatio, d.PixelCount)
			}
			for _, f := range n.Fields {
				fmt.Fprintf(out, "  %-24s %-7s %s\n", workflow.Key(f.NodeID, f.Name), f.Kind, describeField(f))
			}
		}
		return nil
	},
}

func describeField(f workflow.FieldSchema) string {
	switch f.Kind {
	case workflow.FieldEnum:
		return fmt.Sprintf("%s  {%s}", f.Value, strings.Join(f.Options, ", "))
	case workflow.FieldSlider:
		return fmt.Sprintf("%s  [%g..%g step %g]", f.Value, f.Min, f.Max, f.Step)
	case workflow.FieldSeed:
		if f.Randomize {
			return fmt.Sprintf("%s  (randomized)", f.Value)
		}
	}
	return f.Value.String()
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
