//go:build windows

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"reportapp/internal/config"
	"reportapp/internal/logger"

	"github.com/spf13/cobra"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

const serviceName = "ReportApp"
const serviceDisplayName = "ReportApp Reporting Server"
const serviceDescription = "ReportApp - report runner, data import and Power BI embedding server"

// reportService implements svc.Handler.
type reportService struct{}

// Execute is called by the Windows Service Control Manager
func (s *reportService) Execute(args []string, changeReq <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown

	status <- svc.Status{State: svc.StartPending}

	// .env and relative paths resolve against the executable directory
	if exePath, err := os.Executable(); err == nil {
		os.Chdir(filepath.Dir(exePath))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		cfg, err := config.Load()
		if err != nil {
			done <- err
			return
		}
		done <- serve(ctx, cfg)
	}()

	status <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}

	for {
		select {
		case err := <-done:
			cancel()
			if err != nil {
				logger.Error.Printf("Service stopped: %v", err)
				return false, 1
			}
			return false, 0
		case c := <-changeReq:
			switch c.Cmd {
			case svc.Interrogate:
				status <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				status <- svc.Status{State: svc.StopPending}
				cancel()
				select {
				case <-done:
				case <-time.After(10 * time.Second):
				}
				return false, 0
			}
		}
	}
}

func isRunningAsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

func runAsService() {
	if err := svc.Run(serviceName, &reportService{}); err != nil {
		fmt.Printf("Failed to run as service: %v\n", err)
		os.Exit(1)
	}
}

func connectManager() (*mgr.Mgr, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to service manager (run as Administrator): %w", err)
	}
	return m, nil
}

func serviceCommands() []*cobra.Command {
	return []*cobra.Command{
		{
			Use:   "install",
			Short: "Register ReportApp as a Windows service",
			RunE:  func(*cobra.Command, []string) error { return installService() },
		},
		{
			Use:   "uninstall",
			Short: "Remove the Windows service",
			RunE:  func(*cobra.Command, []string) error { return uninstallService() },
		},
		{
			Use:   "start",
			Short: "Start the Windows service",
			RunE:  func(*cobra.Command, []string) error { return controlService(true) },
		},
		{
			Use:   "stop",
			Short: "Stop the Windows service",
			RunE:  func(*cobra.Command, []string) error { return controlService(false) },
		},
	}
}

func installService() error {
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	m, err := connectManager()
	if err != nil {
		return err
	}
	defer m.Disconnect()

	if s, err := m.OpenService(serviceName); err == nil {
		s.Close()
		fmt.Printf("Service '%s' is already installed.\n", serviceName)
		return nil
	}

	s, err := m.CreateService(serviceName, exePath, mgr.Config{
		DisplayName: serviceDisplayName,
		Description: serviceDescription,
		StartType:   mgr.StartAutomatic,
	})
	if err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}
	defer s.Close()

	fmt.Printf("Service '%s' installed successfully.\n", serviceName)
	fmt.Println("Start with: reportapp start")
	return nil
}

func uninstallService() error {
	m, err := connectManager()
	if err != nil {
		return err
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err != nil {
		fmt.Printf("Service '%s' is not installed.\n", serviceName)
		return nil
	}
	defer s.Close()

	if err := s.Delete(); err != nil {
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	fmt.Printf("Service '%s' uninstalled successfully.\n", serviceName)
	return nil
}

func controlService(start bool) error {
	m, err := connectManager()
	if err != nil {
		return err
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err != nil {
		return fmt.Errorf("service '%s' is not installed, run 'reportapp install' first", serviceName)
	}
	defer s.Close()

	if start {
		if err := s.Start(); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
		fmt.Printf("Service '%s' started.\n", serviceName)
		return nil
	}
	if _, err := s.Control(svc.Stop); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}
	fmt.Printf("Service '%s' stopped.\n", serviceName)
	return nil
}
