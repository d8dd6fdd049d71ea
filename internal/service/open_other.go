//go:build !windows

package service

import "reportapp/internal/core"

func openWithShell(string) error {
	return core.Invalid("Opening local .pbix files is only supported on Windows")
}
