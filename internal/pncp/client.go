package pncp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

const (
	compactDateLayout    = "20060102"
	defaultTimeout       = 30 * time.Second
	defaultRetryAttempts = 3
	defaultPageSize      = 50
	defaultRetryDelay    = time.Second
	defaultModalityDelay = 500 * time.Millisecond
)

var (
	// ErrMunicipalityRejected indicates the registry refused the IBGE code (HTTP 422).
	ErrMunicipalityRejected = errors.New("pncp: municipality code rejected")
	// ErrEndpointNotFound indicates the consulted endpoint does not exist (HTTP 404).
	ErrEndpointNotFound = errors.New("pncp: endpoint not found")
)

// unexpectedStatusError covers non-200 responses outside the terminal 422/404 cases.
type unexpectedStatusError struct {
	status int
	body   string
}

func (e *unexpectedStatusError) Error() string {
	return fmt.Sprintf("pncp: unexpected status %d: %s", e.status, e.body)
}

// ClientConfig carries the explicit knobs for a registry client. Zero values
// fall back to registry-friendly defaults; a negative ModalityDelay disables
// the inter-modality pause.
type ClientConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	PageSize      int
	ModalityDelay time.Duration
	Logger        *zap.Logger
}

// Client queries the PNCP public consultation API. It owns its http.Client and
// holds no process-wide state.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	retryAttempts int
	retryDelay    time.Duration
	pageSize      int
	modalityDelay time.Duration
	logger        *zap.Logger
}

// NewClient constructs a registry client from cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("pncp: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	modalityDelay := cfg.ModalityDelay
	if modalityDelay == 0 {
		modalityDelay = defaultModalityDelay
	}
	if modalityDelay < 0 {
		modalityDelay = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:       cfg.BaseURL,
		httpClient:    &http.Client{Timeout: timeout},
		retryAttempts: attempts,
		retryDelay:    retryDelay,
		pageSize:      pageSize,
		modalityDelay: modalityDelay,
		logger:        logger,
	}, nil
}

// FetchByMunicipality queries publications for one municipality over the given
// window, one first-page request per modality. A nil modalityCodes slice means
// all known modalities. A single modality failing does not abort the fetch:
// its error is logged and the remaining modalities still contribute.
func (c *Client) FetchByMunicipality(ctx context.Context, ibgeCode string, start, end time.Time, modalityCodes []int) ([]Record, error) {
	if modalityCodes == nil {
		modalityCodes = AllModalityCodes()
	}

	merged := make([]Record, 0)
	for index, code := range modalityCodes {
		c.logger.Info("fetching modality",
			zap.Int("modality_code", code),
			zap.String("modality_name", ModalityName(code)))

		records, err := c.fetchModality(ctx, ibgeCode, start, end, code)
		if err != nil {
			c.logger.Error("modality fetch failed",
				zap.Int("modality_code", code),
				zap.Error(err))
		} else {
			for _, raw := range records {
				merged = append(merged, Record{
					Raw:          raw,
					ModalityCode: code,
					ModalityName: ModalityName(code),
				})
			}
			c.logger.Info("modality fetched",
				zap.Int("modality_code", code),
				zap.Int("records", len(records)))
		}

		// Courtesy throttle between modalities, not a rate-limit protocol.
		if index < len(modalityCodes)-1 && c.modalityDelay > 0 {
			time.Sleep(c.modalityDelay)
		}
	}

	c.logger.Info("municipality fetch complete",
		zap.String("ibge_code", ibgeCode),
		zap.Int("total_records", len(merged)))
	return merged, nil
}

// fetchModality requests the first publication page for one modality, retrying
// timeouts and transient failures with exponential backoff. A 422 or 404 is
// terminal: logged once and treated as an empty page.
func (c *Client) fetchModality(ctx context.Context, ibgeCode string, start, end time.Time, modalityCode int) ([]json.RawMessage, error) {
	var records []json.RawMessage

	err := retry.Do(func() error {
		page, err := c.requestPage(ctx, ibgeCode, start, end, modalityCode, 1)
		if err != nil {
			return err
		}
		records = page
		return nil
	},
		retry.Attempts(uint(c.retryAttempts)),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(attempt uint, err error) {
			c.logger.Warn("registry request retrying",
				zap.Uint("attempt", attempt+1),
				zap.Int("modality_code", modalityCode),
				zap.Error(err))
		}),
	)
	if err != nil {
		if errors.Is(err, ErrMunicipalityRejected) {
			c.logger.Warn("registry rejected municipality code", zap.String("ibge_code", ibgeCode))
			return []json.RawMessage{}, nil
		}
		if errors.Is(err, ErrEndpointNotFound) {
			c.logger.Warn("registry endpoint not found", zap.Int("modality_code", modalityCode))
			return []json.RawMessage{}, nil
		}
		return nil, err
	}
	return records, nil
}

// requestPage issues one paginated query against /contratacoes/publicacao.
func (c *Client) requestPage(ctx context.Context, ibgeCode string, start, end time.Time, modalityCode, page int) ([]json.RawMessage, error) {
	endpoint := c.baseURL + "/contratacoes/publicacao"

	query := url.Values{}
	query.Set("dataInicial", start.Format(compactDateLayout))
	query.Set("dataFinal", end.Format(compactDateLayout))
	query.Set("codigoMunicipioIbge", ibgeCode)
	query.Set("codigoModalidadeContratacao", strconv.Itoa(modalityCode))
	query.Set("pagina", strconv.Itoa(page))
	query.Set("tamanhoPagina", strconv.Itoa(c.pageSize))

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pncp: build request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("pncp: request failed: %w", err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, fmt.Errorf("pncp: read response: %w", err)
		}
		return decodeEnvelope(body), nil
	case http.StatusUnprocessableEntity:
		return nil, retry.Unrecoverable(ErrMunicipalityRejected)
	case http.StatusNotFound:
		return nil, retry.Unrecoverable(ErrEndpointNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(response.Body, 200))
		return nil, &unexpectedStatusError{status: response.StatusCode, body: string(body)}
	}
}

// FetchDetail retrieves the full registry record for one notice identified by
// its natural key.
func (c *Client) FetchDetail(ctx context.Context, cnpj string, year, sequence int) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/orgaos/%s/compras/%d/%d", c.baseURL, url.PathEscape(cnpj), year, sequence)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("pncp: build request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("pncp: request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil, ErrEndpointNotFound
	}
	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 200))
		return nil, &unexpectedStatusError{status: response.StatusCode, body: string(body)}
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("pncp: read response: %w", err)
	}
	return json.RawMessage(body), nil
}
