// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Command ssoclient signs in to the Metis identity provider from a terminal,
// keeps the session on disk and calls the backend API with it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Exit codes.
const (
	exitError        = 1
	exitAuthRequired = 2
)

func main() {
	if err := execute(context.Background(), &app{}, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, errNotSignedIn) {
			os.Exit(exitAuthRequired)
		}
		os.Exit(exitError)
	}
}
