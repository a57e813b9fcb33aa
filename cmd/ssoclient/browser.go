// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// openBrowser launches the system's default browser for u.
func openBrowser(ctx context.Context, u string) error {
	var name string
	var args []string
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		name, args = "rundll32", []string{"url.dll,FileProtocolHandler"}
	default:
		name = "xdg-open"
	}
	cmd := exec.CommandContext(ctx, name, append(args, u)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to launch %s: %w", name, err)
	}
	// the browser outlives the command
	go func() { _ = cmd.Wait() }()
	return nil
}
