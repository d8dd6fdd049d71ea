//go:build !windows

package service

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// odbcinstPaths are searched in order; ODBCSYSINI overrides them.
var odbcinstPaths = []string{"/etc/odbcinst.ini", "/usr/local/etc/odbcinst.ini", "/opt/homebrew/etc/odbcinst.ini"}

// InstalledODBCDrivers lists the driver sections of the unixODBC odbcinst.ini.
func InstalledODBCDrivers() []string {
	paths := odbcinstPaths
	if dir := os.Getenv("ODBCSYSINI"); dir != "" {
		paths = []string{filepath.Join(dir, "odbcinst.ini")}
	}
	for _, p := range paths {
		if drivers, err := readODBCInst(p); err == nil {
			return drivers
		}
	}
	return []string{}
}

func readODBCInst(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseODBCInst(bufio.NewScanner(f))
}

func parseODBCInst(sc *bufio.Scanner) ([]string, error) {
	drivers := []string{}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
			continue
		}
		name := strings.TrimSpace(line[1 : len(line)-1])
		if name == "" || strings.EqualFold(name, "ODBC") || strings.EqualFold(name, "ODBC Drivers") {
			continue
		}
		drivers = append(drivers, name)
	}
	return drivers, sc.Err()
}
