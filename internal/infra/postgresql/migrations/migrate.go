package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kweku-annan/api-gateway/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, Migrations()).Migrate()
}

func Migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "000001_create_api_keys",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.APIKeyModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_api_keys_active ON api_keys (active) WHERE active`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.APIKeyModel{})
			},
		},
	}
}
