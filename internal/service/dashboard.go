package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"reportapp/internal/core"
	"reportapp/internal/logger"
)

const (
	recentImports  = 10
	recentReports  = 5
	activityLength = 10
)

// DashboardService aggregates the tiles and activity feed of the admin
// dashboard.
type DashboardService struct {
	users   core.UserRepository
	imports core.ImportLogRepository
	reports core.ReportLogRepository
	runtime *Runtime
}

func NewDashboardService(users core.UserRepository, imports core.ImportLogRepository, reports core.ReportLogRepository, runtime *Runtime) *DashboardService {
	return &DashboardService{users: users, imports: imports, reports: reports, runtime: runtime}
}

// Summary collects the dashboard counters. The table count comes from the
// runtime database and falls back to the number of imported tables when it
// cannot be reached.
func (s *DashboardService) Summary(ctx context.Context) (*core.DashboardSummary, error) {
	var sum core.DashboardSummary
	var err error

	if sum.UsersTotal, err = s.users.Count(ctx); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if sum.ImportsTotal, sum.ImportsLastAt, err = s.imports.Stats(ctx); err != nil {
		return nil, fmt.Errorf("import stats: %w", err)
	}
	if sum.ReportsTotal, sum.ReportsLastAt, err = s.reports.Stats(ctx); err != nil {
		return nil, fmt.Errorf("report stats: %w", err)
	}
	sum.TablesCount = s.tablesCount(ctx)
	return &sum, nil
}

func (s *DashboardService) tablesCount(ctx context.Context) int {
	if s.runtime != nil {
		db, d, err := s.runtime.OpenRuntime(ctx)
		if err == nil {
			defer db.Close()
			tables, err := s.runtime.UserTables(ctx, db, d)
			if err == nil {
				return len(tables)
			}
			logger.Error.Printf("Failed to count tables: %v", err)
		}
	}
	tables, err := s.imports.ImportedTables(ctx)
	if err != nil {
		logger.Error.Printf("Failed to list imported tables: %v", err)
		return 0
	}
	return len(tables)
}

// Activity merges recent successful imports and reports, newest first.
func (s *DashboardService) Activity(ctx context.Context) []core.Activity {
	activities := []core.Activity{}

	imports, err := s.imports.Recent(ctx, recentImports)
	if err != nil {
		logger.Error.Printf("Failed to fetch import activity: %v", err)
	}
	for _, l := range imports {
		if l.Status != core.StatusSuccess || l.RowsImported <= 0 {
			continue
		}
		activities = append(activities, core.Activity{
			Type:        "import",
			Description: fmt.Sprintf("Imported %s rows from %s to %s", groupThousands(l.RowsImported), l.FileName, l.TableName),
			User:        l.UserName,
			Timestamp:   l.FinishedAt,
			Details:     l.FileName + " → " + l.TableName,
		})
	}

	reports, err := s.reports.Recent(ctx, recentReports)
	if err != nil {
		logger.Error.Printf("Failed to fetch report activity: %v", err)
	}
	for _, l := range reports {
		if l.Status != core.StatusSuccess {
			continue
		}
		activities = append(activities, core.Activity{
			Type:        "report",
			Description: "Generated report: " + l.ReportName,
			User:        l.UserName,
			Timestamp:   l.FinishedAt,
			Details:     l.ReportName,
		})
	}

	sort.SliceStable(activities, func(i, j int) bool {
		a, b := activities[i].Timestamp, activities[j].Timestamp
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.After(*b)
	})
	if len(activities) > activityLength {
		activities = activities[:activityLength]
	}
	return activities
}

// groupThousands formats n with comma separators.
func groupThousands(n int) string {
	s := strconv.Itoa(n)
	neg := n < 0
	if neg {
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
