//go:build !windows

package main

import "github.com/spf13/cobra"

func isRunningAsService() bool { return false }

func runAsService() {}

// serviceCommands is empty: install/uninstall/start/stop only exist on Windows.
func serviceCommands() []*cobra.Command { return nil }
