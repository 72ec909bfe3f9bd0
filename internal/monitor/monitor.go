package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lilkinjongun/pncp-monitor/internal/notices"
	"github.com/lilkinjongun/pncp-monitor/internal/pncp"
	"go.uber.org/zap"
)

var (
	errMissingClient = errors.New("monitor: registry client is required")
	errMissingStore  = errors.New("monitor: notice store is required")
)

// RegistryClient is the fetch surface the pipeline needs from the PNCP client.
type RegistryClient interface {
	FetchByMunicipality(ctx context.Context, ibgeCode string, start, end time.Time, modalityCodes []int) ([]pncp.Record, error)
}

// NoticeStore is the persistence surface the pipeline needs.
type NoticeStore interface {
	UpsertMany(ctx context.Context, batch []notices.Notice) (int, error)
	RecordExecution(ctx context.Context, found, newCount int, success bool, message string) error
	ListUnnotified(ctx context.Context) ([]notices.Notice, error)
	MarkNotified(ctx context.Context, id uint) error
}

// Notifier dispatches a digest for a batch of new notices.
type Notifier interface {
	NotifyNewNotices(recipients []string, batch []notices.Notice) error
}

// Result is the structured outcome of one reconciliation run. Run never
// propagates failures past its boundary; they land here instead.
type Result struct {
	Success    bool      `json:"sucesso"`
	TotalFound int       `json:"total_encontradas"`
	NewCount   int       `json:"novas"`
	ExecutedAt time.Time `json:"data_execucao"`
	Error      string    `json:"erro,omitempty"`
}

// Config carries a Monitor's dependencies. Notifier and Recipients are
// optional; without both, notification is silently disabled.
type Config struct {
	Client           RegistryClient
	Store            NoticeStore
	Notifier         Notifier
	Recipients       []string
	MunicipalityCode string
	MunicipalityName string
	Clock            func() time.Time
	Logger           *zap.Logger
}

// Monitor orchestrates one fetch-and-reconcile cycle: query the registry
// across modality codes for a rolling window, then upsert into the store.
type Monitor struct {
	client           RegistryClient
	store            NoticeStore
	notifier         Notifier
	recipients       []string
	municipalityCode string
	municipalityName string
	clock            func() time.Time
	logger           *zap.Logger
}

// NewMonitor constructs a Monitor from cfg.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.MunicipalityCode == "" {
		return nil, errors.New("monitor: municipality code is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		client:           cfg.Client,
		store:            cfg.Store,
		notifier:         cfg.Notifier,
		recipients:       cfg.Recipients,
		municipalityCode: cfg.MunicipalityCode,
		municipalityName: cfg.MunicipalityName,
		clock:            clock,
		logger:           logger,
	}, nil
}

// Run executes one reconciliation cycle over [now - lookbackDays, now]. A nil
// modalityCodes slice covers all known modalities. Running twice over
// overlapping windows stores the same set; only NewCount differs.
func (m *Monitor) Run(ctx context.Context, lookbackDays int, modalityCodes []int) Result {
	runID := uuid.NewString()
	executedAt := m.clock().UTC()
	windowEnd := executedAt
	windowStart := windowEnd.AddDate(0, 0, -lookbackDays)

	logger := m.logger.With(zap.String("run_id", runID))
	logger.Info("monitoring run starting",
		zap.String("municipality", m.municipalityName),
		zap.String("ibge_code", m.municipalityCode),
		zap.Time("window_start", windowStart),
		zap.Time("window_end", windowEnd))

	records, err := m.client.FetchByMunicipality(ctx, m.municipalityCode, windowStart, windowEnd, modalityCodes)
	if err != nil {
		return m.fail(ctx, logger, runID, executedAt, fmt.Errorf("fetch: %w", err))
	}

	batch := make([]notices.Notice, 0, len(records))
	for _, record := range records {
		batch = append(batch, noticeFromRecord(record, executedAt))
	}

	newCount, err := m.store.UpsertMany(ctx, batch)
	if err != nil {
		return m.fail(ctx, logger, runID, executedAt, fmt.Errorf("persist: %w", err))
	}

	message := fmt.Sprintf("run %s: monitoring completed", runID)
	if err := m.store.RecordExecution(ctx, len(records), newCount, true, message); err != nil {
		logger.Error("failed to record execution", zap.Error(err))
	}

	logger.Info("monitoring run completed",
		zap.Int("found", len(records)),
		zap.Int("new", newCount))

	return Result{
		Success:    true,
		TotalFound: len(records),
		NewCount:   newCount,
		ExecutedAt: executedAt,
	}
}

// RunAndNotify executes one reconciliation cycle and, when it produced new
// notices and a notifier is wired, dispatches a digest for every pending
// notice, marking each as notified on delivery. Notification failures do not
// affect the run result.
func (m *Monitor) RunAndNotify(ctx context.Context, lookbackDays int, modalityCodes []int) Result {
	result := m.Run(ctx, lookbackDays, modalityCodes)
	if !result.Success || result.NewCount == 0 {
		return result
	}
	if m.notifier == nil || len(m.recipients) == 0 {
		m.logger.Info("notification disabled, skipping digest")
		return result
	}
	if err := m.NotifyPending(ctx); err != nil {
		m.logger.Warn("notification step failed", zap.Error(err))
	}
	return result
}

// NotifyPending sends a digest covering every unnotified notice and marks
// them notified once delivery succeeds.
func (m *Monitor) NotifyPending(ctx context.Context) error {
	if m.notifier == nil {
		return errors.New("monitor: no notifier configured")
	}

	pending, err := m.store.ListUnnotified(ctx)
	if err != nil {
		return fmt.Errorf("list unnotified: %w", err)
	}
	if len(pending) == 0 {
		m.logger.Info("no notices pending notification")
		return nil
	}

	if err := m.notifier.NotifyNewNotices(m.recipients, pending); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	for _, notice := range pending {
		if err := m.store.MarkNotified(ctx, notice.ID); err != nil {
			m.logger.Error("failed to mark notice notified",
				zap.Uint("notice_id", notice.ID),
				zap.Error(err))
		}
	}

	m.logger.Info("pending notices notified", zap.Int("count", len(pending)))
	return nil
}

func (m *Monitor) fail(ctx context.Context, logger *zap.Logger, runID string, executedAt time.Time, cause error) Result {
	logger.Error("monitoring run failed", zap.Error(cause))

	message := fmt.Sprintf("run %s: %v", runID, cause)
	if err := m.store.RecordExecution(ctx, 0, 0, false, message); err != nil {
		logger.Error("failed to record execution", zap.Error(err))
	}

	return Result{
		Success:    false,
		ExecutedAt: executedAt,
		Error:      cause.Error(),
	}
}

// noticeFromRecord maps one raw registry record into the persisted shape,
// keeping the source payload verbatim for audit.
func noticeFromRecord(record pncp.Record, capturedAt time.Time) notices.Notice {
	publishedAt, _ := record.PublishedAt()
	return notices.Notice{
		PurchaseNumber:   record.PurchaseNumber(),
		PurchaseYear:     record.PurchaseYear(),
		PurchaseSequence: record.PurchaseSequence(),
		MunicipalityCode: record.MunicipalityCode(),
		AgencyCNPJ:       record.AgencyCNPJ(),
		AgencyName:       record.AgencyName(),
		Object:           record.Object(),
		EstimatedValue:   record.EstimatedValue(),
		HomologatedValue: record.HomologatedValue(),
		ModalityCode:     record.ModalityCode,
		ModalityName:     record.ModalityName,
		PublishedAt:      publishedAt,
		Status:           record.Status(),
		PortalLink:       record.PortalLink(),
		RawPayload:       string(record.Raw),
		CapturedAt:       capturedAt,
	}
}
