package database

import (
	"errors"
	"time"

	"github.com/lilkinjongun/pncp-monitor/internal/notices"
	"github.com/lilkinjongun/pncp-monitor/internal/pncp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillPortalLinks = "2024-06-12_backfill_portal_links"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPortalLinks, apply: backfillPortalLinks},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillPortalLinks derives the portal URL for notices captured before link
// generation existed. The link is a pure function of the natural key.
func backfillPortalLinks(db *gorm.DB) error {
	var rows []notices.Notice
	err := db.Where("link_pncp = '' AND cnpj_orgao <> '' AND ano_compra > 0 AND sequencial_compra > 0").
		Find(&rows).Error
	if err != nil {
		return err
	}

	for _, row := range rows {
		link := pncp.BuildPortalLink(row.AgencyCNPJ, row.PurchaseYear, row.PurchaseSequence)
		if link == "" {
			continue
		}
		err := db.Model(&notices.Notice{}).
			Where("id = ?", row.ID).
			Update("link_pncp", link).Error
		if err != nil {
			return err
		}
	}
	return nil
}
