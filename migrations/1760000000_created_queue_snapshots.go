package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"

	"queue-system/internal/storage"
)

func init() {
	m.Register(func(app core.App) error {
		return execAll(app, storage.SchemaSQL)
	}, func(app core.App) error {
		return execAll(app, storage.DropSQL)
	})
}

func execAll(app core.App, statements []string) error {
	for _, stmt := range statements {
		if _, err := app.DB().NewQuery(stmt).Execute(); err != nil {
			return err
		}
	}
	return nil
}
