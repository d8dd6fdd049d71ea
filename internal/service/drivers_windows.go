//go:build windows

package service

import (
	"sort"

	"golang.org/x/sys/windows/registry"
)

// InstalledODBCDrivers reads the driver list maintained by the ODBC
// administrator.
func InstalledODBCDrivers() []string {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\ODBC\ODBCINST.INI\ODBC Drivers`, registry.QUERY_VALUE)
	if err != nil {
		return []string{}
	}
	defer k.Close()

	names, err := k.ReadValueNames(0)
	if err != nil {
		return []string{}
	}
	drivers := make([]string, 0, len(names))
	for _, n := range names {
		if v, _, err := k.GetStringValue(n); err == nil && v == "Installed" {
			drivers = append(drivers, n)
		}
	}
	sort.Strings(drivers)
	return drivers
}
