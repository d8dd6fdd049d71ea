//go:build windows

package service

import (
	"fmt"
	"os/exec"
)

func openWithShell(path string) error {
	if err := exec.Command("rundll32", "url.dll,FileProtocolHandler", path).Start(); err != nil {
		return fmt.Errorf("failed to open Power BI file: %w", err)
	}
	return nil
}
