package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mifumo/pamoja/internal/archgraph"
)

var (
	analyzeFile       string
	analyzeMultiplier float64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze an architecture graph file and print the report",
	Long: `Reads an architecture graph (YAML or JSON, with nodes and edges)
and prints the analysis report: modularity, coupling, articulation
points, bottlenecks, and recommendations.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFile, "file", "", "path to the graph file")
	analyzeCmd.Flags().Float64Var(&analyzeMultiplier, "bottleneck-multiplier", 0, "degree multiple that flags a bottleneck (default 1.5)")
	_ = analyzeCmd.MarkFlagRequired("file")
}

func runAnalyze(_ *cobra.Command, _ []string) error {
	data, err := os.ReadFile(analyzeFile)
	if err != nil {
		return fmt.Errorf("reading graph file: %w", err)
	}

	var graph archgraph.Graph
	switch strings.ToLower(filepath.Ext(analyzeFile)) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &graph); err != nil {
			return fmt.Errorf("parsing YAML graph: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &graph); err != nil {
			return fmt.Errorf("parsing JSON graph: %w", err)
		}
	}

	analyzer := archgraph.NewAnalyzer(archgraph.Config{
		BottleneckMultiplier: analyzeMultiplier,
	})
	report, err := analyzer.Analyze(&graph)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
