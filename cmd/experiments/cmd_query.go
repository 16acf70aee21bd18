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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// queryClient is shared by the analyze and report commands.
var queryClient = &http.Client{Timeout: 60 * time.Second}

func runAnalyze(cmd *cobra.Command, args []string) {
	experimentID := args[0]
	url := fmt.Sprintf("%s/v1/experiments/%s/analyze", serverURL, experimentID)

	resp, err := queryClient.Post(url, "application/json", bytes.NewReader(nil))
	if err != nil {
		log.Fatalf("FATAL: could not reach the experiments service: %v", err)
	}
	defer resp.Body.Close()
	printJSONResponse(resp)
}

func runReport(cmd *cobra.Command, args []string) {
	experimentID := args[0]
	url := fmt.Sprintf("%s/v1/experiments/%s/report", serverURL, experimentID)

	resp, err := queryClient.Get(url)
	if err != nil {
		log.Fatalf("FATAL: could not reach the experiments service: %v", err)
	}
	defer resp.Body.Close()
	printJSONResponse(resp)
}

// printJSONResponse pretty-prints the body and exits nonzero on API errors.
func printJSONResponse(resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("FATAL: could not read the response body: %v", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		// Not JSON; dump as-is.
		fmt.Println(string(body))
	} else {
		fmt.Println(pretty.String())
	}

	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "request failed with status %d\n", resp.StatusCode)
		os.Exit(1)
	}
}
