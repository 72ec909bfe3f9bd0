package notices

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("notices: database handle is required")

// naturalKeyColumns is the conflict target backing upsert-if-absent semantics.
var naturalKeyColumns = []clause.Column{
	{Name: "cnpj_orgao"},
	{Name: "ano_compra"},
	{Name: "sequencial_compra"},
}

const defaultQueryLimit = 100

// UpsertOutcome reports whether an upsert inserted a new row or hit an
// existing natural key. Duplicate keys are an expected outcome, never an error.
type UpsertOutcome int

const (
	// OutcomeInserted means the notice was stored for the first time.
	OutcomeInserted UpsertOutcome = iota
	// OutcomeAlreadyExists means a notice with the same natural key was already stored.
	OutcomeAlreadyExists
)

// QueryFilter narrows Query and Count. Nil pointer fields are not applied.
// Date bounds are inclusive and compare against the publication timestamp.
type QueryFilter struct {
	Limit        int
	Offset       int
	ModalityCode *int
	DateFrom     *time.Time
	DateTo       *time.Time
}

// ModalityCount is one row of the per-modality statistics breakdown.
type ModalityCount struct {
	ModalityName string `gorm:"column:modalidade_nome" json:"modalidade_nome"`
	Count        int64  `gorm:"column:quantidade" json:"quantidade"`
}

// Statistics aggregates the stored notice set.
type Statistics struct {
	TotalNotices        int64           `json:"total_contratacoes"`
	TotalEstimatedValue float64         `json:"valor_total_estimado"`
	LastCapturedAt      *time.Time      `json:"ultima_atualizacao"`
	ByModality          []ModalityCount `json:"por_modalidade"`
}

// StoreConfig carries the dependencies for a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists notices and execution log entries. Cross-process concurrent
// upserts rely on the natural-key unique index, not on in-process locking.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a Store from cfg.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// UpsertOne stores the notice unless its natural key already exists. Repeated
// calls with the same record are safe and report OutcomeAlreadyExists.
func (s *Store) UpsertOne(ctx context.Context, notice Notice) (UpsertOutcome, error) {
	if notice.CapturedAt.IsZero() {
		notice.CapturedAt = s.clock().UTC()
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: naturalKeyColumns, DoNothing: true}).
		Create(&notice)
	if result.Error != nil {
		return OutcomeAlreadyExists, result.Error
	}
	if result.RowsAffected == 0 {
		s.logger.Debug("duplicate notice ignored",
			zap.String("cnpj", notice.AgencyCNPJ),
			zap.Int("year", notice.PurchaseYear),
			zap.Int("sequence", notice.PurchaseSequence))
		return OutcomeAlreadyExists, nil
	}

	s.logger.Info("new notice stored",
		zap.Int("year", notice.PurchaseYear),
		zap.Int("sequence", notice.PurchaseSequence),
		zap.String("modality", notice.ModalityName))
	return OutcomeInserted, nil
}

// UpsertMany applies UpsertOne to each notice and returns how many were new.
// A failing record is logged and skipped; the batch carries no all-or-nothing
// transaction semantics.
func (s *Store) UpsertMany(ctx context.Context, batch []Notice) (int, error) {
	newCount := 0
	for _, notice := range batch {
		outcome, err := s.UpsertOne(ctx, notice)
		if err != nil {
			s.logger.Error("failed to store notice",
				zap.String("cnpj", notice.AgencyCNPJ),
				zap.Int("year", notice.PurchaseYear),
				zap.Int("sequence", notice.PurchaseSequence),
				zap.Error(err))
			continue
		}
		if outcome == OutcomeInserted {
			newCount++
		}
	}
	return newCount, nil
}

// ListUnnotified returns every notice not yet notified, newest publication first.
func (s *Store) ListUnnotified(ctx context.Context) ([]Notice, error) {
	var result []Notice
	err := s.db.WithContext(ctx).
		Where("notificado = ?", false).
		Order("data_publicacao DESC").
		Find(&result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkNotified flips the notified flag and stamps the notification timestamp.
// A second call for the same id is a no-op and keeps the original timestamp.
func (s *Store) MarkNotified(ctx context.Context, id uint) error {
	now := s.clock().UTC()
	return s.db.WithContext(ctx).
		Model(&Notice{}).
		Where("id = ? AND notificado = ?", id, false).
		Updates(map[string]any{"notificado": true, "data_notificacao": now}).Error
}

// Query lists notices matching filter, ordered by publication date descending.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Notice, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var result []Notice
	err := s.applyFilter(s.db.WithContext(ctx), filter).
		Order("data_publicacao DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Count returns the number of notices matching filter, with the same filter
// semantics as Query.
func (s *Store) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	var total int64
	err := s.applyFilter(s.db.WithContext(ctx), filter).
		Model(&Notice{}).
		Count(&total).Error
	return total, err
}

func (s *Store) applyFilter(tx *gorm.DB, filter QueryFilter) *gorm.DB {
	if filter.ModalityCode != nil {
		tx = tx.Where("modalidade_codigo = ?", *filter.ModalityCode)
	}
	if filter.DateFrom != nil {
		tx = tx.Where("data_publicacao >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		tx = tx.Where("data_publicacao <= ?", *filter.DateTo)
	}
	return tx
}

// Statistics aggregates total count, estimated value sum (NULL treated as 0),
// the latest capture timestamp (nil for an empty store), and per-modality
// counts ordered by count.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{ByModality: []ModalityCount{}}

	if err := s.db.WithContext(ctx).Model(&Notice{}).Count(&stats.TotalNotices).Error; err != nil {
		return Statistics{}, err
	}

	err := s.db.WithContext(ctx).Model(&Notice{}).
		Select("COALESCE(SUM(valor_estimado), 0)").
		Scan(&stats.TotalEstimatedValue).Error
	if err != nil {
		return Statistics{}, err
	}

	// Timestamps live as TEXT in sqlite, so the latest capture is read back
	// through the model instead of a raw MAX() scan.
	var latest Notice
	err = s.db.WithContext(ctx).
		Order("data_captura DESC").
		Limit(1).
		Take(&latest).Error
	switch {
	case err == nil:
		capturedAt := latest.CapturedAt
		stats.LastCapturedAt = &capturedAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Statistics{}, err
	}

	err = s.db.WithContext(ctx).Model(&Notice{}).
		Select("modalidade_nome, COUNT(*) as quantidade").
		Group("modalidade_nome").
		Order("quantidade DESC").
		Scan(&stats.ByModality).Error
	if err != nil {
		return Statistics{}, err
	}

	return stats, nil
}

// RecordExecution appends one execution log entry.
func (s *Store) RecordExecution(ctx context.Context, found, newCount int, success bool, message string) error {
	entry := ExecutionLog{
		ExecutedAt: s.clock().UTC(),
		FoundCount: found,
		NewCount:   newCount,
		Success:    success,
		Message:    message,
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}
