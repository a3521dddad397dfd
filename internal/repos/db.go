package repos

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/envutil"
	"github.com/strataline/graphmind/internal/platform/logger"
)

// OpenSQLite opens (or creates) the local job-state database and migrates the
// checkpoint table. Path defaults to a file next to the process; tests pass
// ":memory:".
func OpenSQLite(path string, log *logger.Logger) (*gorm.DB, error) {
	if path == "" {
		path = envutil.Str("JOB_STATE_DB", "graphmind-jobs.db")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open job state db: %w", err)
	}
	if err := db.AutoMigrate(&domain.JobCheckpoint{}); err != nil {
		return nil, fmt.Errorf("migrate job state db: %w", err)
	}
	if log != nil {
		log.Debug("Job state db ready", "path", path)
	}
	return db, nil
}
