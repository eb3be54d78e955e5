package pg

import (
	"io/fs"

	_ "github.com/lib/pq"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending goose migration found in dir. When migrations
// is not nil, dir is resolved inside that filesystem instead of the disk.
func Migrate(cfg Config, migrations fs.FS, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if migrations != nil {
		goose.SetBaseFS(migrations)
		defer goose.SetBaseFS(nil)
	}

	db, err := newSqlConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err = goose.Up(db, dir); err != nil {
		return err
	}

	version, err := goose.GetDBVersion(db)
	if err == nil {
		logger.Info("migrations applied", "version", version)
	}
	return nil
}
