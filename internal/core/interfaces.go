package core

import (
	"context"
	"time"
)

// UserRepository defines storage operations for user accounts
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetAll(ctx context.Context) ([]User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
	CountByRole(ctx context.Context, role string) (int, error)
}

// DefinitionRepository defines storage operations for report definitions
type DefinitionRepository interface {
	Create(ctx context.Context, d *ReportDefinition) error
	GetAll(ctx context.Context) ([]ReportDefinition, error)
	GetByID(ctx context.Context, id int64) (*ReportDefinition, error)
	Update(ctx context.Context, d *ReportDefinition) error
	Delete(ctx context.Context, id int64) error
}

// ReportLogRepository records report executions
type ReportLogRepository interface {
	Start(ctx context.Context, reportName, userName, details string) (int64, error)
	Finish(ctx context.Context, id int64, status, details string) error
	CreateFinished(ctx context.Context, reportName, userName, status, details string) (int64, error)
	Recent(ctx context.Context, limit int) ([]ReportLog, error)
	Stats(ctx context.Context) (total int, lastAt *time.Time, err error)
}

// ImportLogRepository records file imports
type ImportLogRepository interface {
	Create(ctx context.Context, l *ImportLog) error
	IsDuplicate(ctx context.Context, fileName, tableName string, fileSize int64) (bool, error)
	Recent(ctx context.Context, limit int) ([]ImportLog, error)
	Stats(ctx context.Context) (total int, lastAt *time.Time, err error)
	ImportedTables(ctx context.Context) ([]string, error)
}

// PowerBIRepository defines storage operations for the BI embed registry
type PowerBIRepository interface {
	Create(ctx context.Context, r *PowerBIReport) error
	ListEnabled(ctx context.Context) ([]PowerBIReport, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// SettingsStore persists the runtime database settings
type SettingsStore interface {
	Load() (DBSettings, error)
	Save(s DBSettings) error
}
