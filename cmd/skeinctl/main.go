// Package main is the entry point for skeinctl, the command-line client for
// the skein server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/skeinai/skein/pkg/config"
	"github.com/skeinai/skein/pkg/domain"
	"github.com/skeinai/skein/pkg/graph"
)

const defaultServer = "http://localhost:8080"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "skeinctl",
		Short: "CLI for the skein model orchestration server",
		Long: `skeinctl validates pipeline graphs and drives a running skein server.

Examples:
  skeinctl validate pipeline.yaml
  skeinctl invoke summarizer --input '{"text":"hello"}'
  skeinctl run my-pipeline --input '{"text":"hello"}' --server http://skein:8080`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("server", "s", defaultServer, "Base URL of the skein server")
	rootCmd.AddCommand(newValidateCmd(), newInvokeCmd(), newRunCmd())
	return rootCmd
}

// newValidateCmd resolves a graph file locally and prints its execution plan.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph-file>",
		Short: "Resolve a pipeline graph file and print its execution levels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraphFile(args[0])
			if err != nil {
				return err
			}

			plan, err := graph.Resolve(g)
			if err != nil {
				return fmt.Errorf("graph %q is invalid: %w", g.ID, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "graph %q: %d nodes in %d levels\n", g.ID, plan.NodeCount(), len(plan.Levels))
			for i, level := range plan.Levels {
				fmt.Fprintf(cmd.OutOrStdout(), "  level %d: %v\n", i, level)
			}
			return nil
		},
	}
}

// newInvokeCmd performs an ad hoc single-model call through the server.
func newInvokeCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "invoke <model-id>",
		Short: "Invoke a single model through the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postExecution(cmd, fmt.Sprintf("/v1/models/%s/invoke", args[0]), input)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "null", "Input payload as JSON")
	return cmd
}

// newRunCmd executes a registered pipeline graph on the server.
func newRunCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "run <graph-id>",
		Short: "Execute a registered pipeline graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postExecution(cmd, fmt.Sprintf("/v1/graphs/%s/execute", args[0]), input)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "null", "Input payload as JSON")
	return cmd
}

func loadGraphFile(path string) (domain.PipelineGraph, error) {
	//nolint:gosec // File path comes from the operator's command line
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PipelineGraph{}, fmt.Errorf("read graph file: %w", err)
	}

	var manifest config.GraphConfig
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return domain.PipelineGraph{}, fmt.Errorf("parse graph file %s: %w", path, err)
	}
	if manifest.ID == "" {
		return domain.PipelineGraph{}, fmt.Errorf("graph file %s has no id", path)
	}
	return manifest.ToDomain(), nil
}

func postExecution(cmd *cobra.Command, path, input string) error {
	var payload domain.Value
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}

	server, err := cmd.Flags().GetString("server")
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]domain.Value{"input": payload})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(server+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("call server: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Pretty-print JSON responses; pass anything else through untouched.
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Write(raw)
	}
	fmt.Fprintln(cmd.OutOrStdout(), pretty.String())

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
