// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string

	rootCmd = &cobra.Command{
		Use:   "experiments",
		Short: "A/B experimentation service for content generation strategies",
		Long: `Runs and queries the Aleutian experimentation engine: controlled
experiments comparing content variants, with traffic allocation,
result collection, and statistical significance analysis.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the experiments HTTP service",
		Run:   runServe,
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze [experiment-id]",
		Short: "Run significance analysis on an experiment",
		Long: `Asks a running experiments service to analyze the named experiment
and prints the resulting report as JSON.`,
		Args: cobra.ExactArgs(1),
		Run:  runAnalyze,
	}

	reportCmd = &cobra.Command{
		Use:   "report [experiment-id]",
		Short: "Fetch the full report for an experiment",
		Args:  cobra.ExactArgs(1),
		Run:   runReport,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:12240",
		"Base URL of the experiments service")
	rootCmd.AddCommand(serveCmd, analyzeCmd, reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
