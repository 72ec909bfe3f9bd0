package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lilkinjongun/pncp-monitor/internal/database"
	"github.com/lilkinjongun/pncp-monitor/internal/monitor"
	"github.com/lilkinjongun/pncp-monitor/internal/notices"
	"github.com/lilkinjongun/pncp-monitor/internal/pncp"
	"github.com/lilkinjongun/pncp-monitor/internal/server"
	"go.uber.org/zap"
)

const (
	cronSharedToken   = "integration-cron-token"
	municipalityIBGE  = "3304706"
	municipalityLabel = "Santo Antônio de Pádua - RJ"
	agencyCNPJ        = "28645810000121"
	jsonContentType   = "application/json"
)

// registryFixture serves the publication endpoint with two notices under
// modality 6 and empty pages everywhere else, plus the per-notice detail
// endpoint.
func registryFixture(testContext *testing.T) *httptest.Server {
	testContext.Helper()

	publicationPayload := fmt.Sprintf(`{"data":[
		{"numeroCompra":"90001","anoCompra":2026,"sequencialCompra":1,
		 "codigoMunicipioIbge":%q,
		 "orgaoEntidade":{"cnpj":%q,"razaoSocial":"Prefeitura Municipal"},
		 "objetoCompra":"Aquisição de material escolar",
		 "valorTotalEstimado":150000.50,"valorTotalHomologado":null,
		 "situacaoCompra":"Divulgada","dataPublicacaoPncp":"2026-08-25T10:30:00"},
		{"numeroCompra":"90002","anoCompra":2026,"sequencialCompra":2,
		 "codigoMunicipioIbge":%q,
		 "orgaoEntidade":{"cnpj":%q,"razaoSocial":"Prefeitura Municipal"},
		 "objetoCompra":"Contratação de serviços de limpeza urbana",
		 "valorTotalEstimado":980000,"valorTotalHomologado":null,
		 "situacaoCompra":"Divulgada","dataPublicacaoPncp":"2026-08-26T09:00:00"}
	]}`, municipalityIBGE, agencyCNPJ, municipalityIBGE, agencyCNPJ)

	return httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch {
		case request.URL.Path == "/contratacoes/publicacao":
			writer.Header().Set("Content-Type", jsonContentType)
			if request.URL.Query().Get("codigoModalidadeContratacao") == "6" {
				fmt.Fprint(writer, publicationPayload)
				return
			}
			fmt.Fprint(writer, `{"data":[]}`)
		case strings.HasPrefix(request.URL.Path, "/orgaos/"):
			writer.Header().Set("Content-Type", jsonContentType)
			fmt.Fprintf(writer, `{"numeroCompra":"90001","anoCompra":2026,"sequencialCompra":1,"orgaoEntidade":{"cnpj":%q}}`, agencyCNPJ)
		default:
			http.NotFound(writer, request)
		}
	}))
}

func TestMonitorAndQueryFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := registryFixture(testContext)
	defer registry.Close()

	dsn := fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	store, err := notices.NewStore(notices.StoreConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}

	client, err := pncp.NewClient(pncp.ClientConfig{
		BaseURL:       registry.URL,
		Timeout:       2 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		ModalityDelay: -1,
	})
	if err != nil {
		testContext.Fatalf("failed to build client: %v", err)
	}

	pipeline, err := monitor.NewMonitor(monitor.Config{
		Client:           client,
		Store:            store,
		MunicipalityCode: municipalityIBGE,
		MunicipalityName: municipalityLabel,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build monitor: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:            store,
		Pipeline:         pipeline,
		Details:          client,
		CronToken:        cronSharedToken,
		MunicipalityName: municipalityLabel,
		LookbackDays:     7,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	facade := httptest.NewServer(handler)
	defer facade.Close()

	runMonitor := func() monitorResultPayload {
		request, _ := http.NewRequest(http.MethodPost, facade.URL+"/api/monitor/auto", nil)
		request.Header.Set("X-Cron-Token", cronSharedToken)
		response, err := http.DefaultClient.Do(request)
		if err != nil {
			testContext.Fatalf("monitor request failed: %v", err)
		}
		defer response.Body.Close()
		if response.StatusCode != http.StatusOK {
			testContext.Fatalf("unexpected monitor status: %d", response.StatusCode)
		}
		var result monitorResultPayload
		if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
			testContext.Fatalf("failed to decode monitor result: %v", err)
		}
		return result
	}

	firstRun := runMonitor()
	if !firstRun.Success {
		testContext.Fatalf("expected first run to succeed, got error %q", firstRun.Error)
	}
	if firstRun.TotalFound != 2 || firstRun.NewCount != 2 {
		testContext.Fatalf("unexpected first run counts: found=%d new=%d", firstRun.TotalFound, firstRun.NewCount)
	}

	secondRun := runMonitor()
	if !secondRun.Success || secondRun.TotalFound != 2 || secondRun.NewCount != 0 {
		testContext.Fatalf("expected idempotent re-run, got found=%d new=%d", secondRun.TotalFound, secondRun.NewCount)
	}

	unauthorized, err := http.Post(facade.URL+"/api/monitor/auto", jsonContentType, nil)
	if err != nil {
		testContext.Fatalf("unauthenticated monitor request failed: %v", err)
	}
	defer unauthorized.Body.Close()
	if unauthorized.StatusCode != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 without cron token, got %d", unauthorized.StatusCode)
	}

	listResponse, err := http.Get(facade.URL + "/api/contratacoes?modalidade=6")
	if err != nil {
		testContext.Fatalf("list request failed: %v", err)
	}
	defer listResponse.Body.Close()
	if listResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected list status: %d", listResponse.StatusCode)
	}
	var listPayload struct {
		Total   int64 `json:"total"`
		Notices []struct {
			PurchaseNumber string  `json:"numero_compra"`
			AgencyCNPJ     string  `json:"cnpj_orgao"`
			EstimatedValue float64 `json:"valor_estimado"`
			ModalityName   string  `json:"modalidade_nome"`
			PortalLink     string  `json:"link_pncp"`
			Notified       bool    `json:"notificado"`
		} `json:"contratacoes"`
	}
	if err := json.NewDecoder(listResponse.Body).Decode(&listPayload); err != nil {
		testContext.Fatalf("failed to decode list response: %v", err)
	}
	if listPayload.Total != 2 || len(listPayload.Notices) != 2 {
		testContext.Fatalf("expected two stored notices, got total=%d items=%d", listPayload.Total, len(listPayload.Notices))
	}
	newest := listPayload.Notices[0]
	if newest.PurchaseNumber != "90002" {
		testContext.Fatalf("expected newest notice first, got %s", newest.PurchaseNumber)
	}
	if newest.AgencyCNPJ != agencyCNPJ || newest.ModalityName != "Pregão - Eletrônico" {
		testContext.Fatalf("unexpected notice fields: %#v", newest)
	}
	expectedLink := fmt.Sprintf("https://pncp.gov.br/app/editais/%s/2026/2", agencyCNPJ)
	if newest.PortalLink != expectedLink {
		testContext.Fatalf("unexpected portal link: %s", newest.PortalLink)
	}
	if newest.Notified {
		testContext.Fatalf("expected freshly captured notice to be pending notification")
	}

	statsResponse, err := http.Get(facade.URL + "/api/stats")
	if err != nil {
		testContext.Fatalf("stats request failed: %v", err)
	}
	defer statsResponse.Body.Close()
	var statsPayload struct {
		Total      int64   `json:"total_contratacoes"`
		TotalValue float64 `json:"valor_total_estimado"`
		ByModality []struct {
			ModalityName string `json:"modalidade_nome"`
			Count        int64  `json:"quantidade"`
		} `json:"por_modalidade"`
	}
	if err := json.NewDecoder(statsResponse.Body).Decode(&statsPayload); err != nil {
		testContext.Fatalf("failed to decode stats response: %v", err)
	}
	if statsPayload.Total != 2 {
		testContext.Fatalf("unexpected stats total: %d", statsPayload.Total)
	}
	if statsPayload.TotalValue != 1130000.50 {
		testContext.Fatalf("unexpected stats value: %f", statsPayload.TotalValue)
	}
	if len(statsPayload.ByModality) != 1 || statsPayload.ByModality[0].Count != 2 {
		testContext.Fatalf("unexpected modality buckets: %#v", statsPayload.ByModality)
	}

	detailResponse, err := http.Get(facade.URL + "/api/contratacoes/" + agencyCNPJ + "/2026/1")
	if err != nil {
		testContext.Fatalf("detail request failed: %v", err)
	}
	defer detailResponse.Body.Close()
	if detailResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected detail status: %d", detailResponse.StatusCode)
	}
	var detailPayload struct {
		PurchaseNumber string `json:"numeroCompra"`
	}
	if err := json.NewDecoder(detailResponse.Body).Decode(&detailPayload); err != nil {
		testContext.Fatalf("failed to decode detail response: %v", err)
	}
	if detailPayload.PurchaseNumber != "90001" {
		testContext.Fatalf("unexpected detail payload: %#v", detailPayload)
	}
}

type monitorResultPayload struct {
	Success    bool   `json:"sucesso"`
	TotalFound int    `json:"total_encontradas"`
	NewCount   int    `json:"novas"`
	Error      string `json:"erro,omitempty"`
}
