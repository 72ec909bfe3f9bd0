package pncp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

const portalBaseURL = "https://pncp.gov.br/app/editais"

// publicationLayouts are the timestamp shapes the registry has been seen
// emitting for dataPublicacaoPncp.
var publicationLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Record is one procurement notice as returned by the registry, kept as the
// raw payload plus the modality tag attached at fetch time. Field accessors
// read the loose JSON directly so unexpected shapes degrade to zero values
// instead of decode failures.
type Record struct {
	Raw          json.RawMessage
	ModalityCode int
	ModalityName string
}

// PurchaseNumber returns the registry purchase number.
func (r Record) PurchaseNumber() string {
	return gjson.GetBytes(r.Raw, "numeroCompra").String()
}

// PurchaseYear returns the purchase year.
func (r Record) PurchaseYear() int {
	return int(gjson.GetBytes(r.Raw, "anoCompra").Int())
}

// PurchaseSequence returns the per-agency purchase sequence number.
func (r Record) PurchaseSequence() int {
	return int(gjson.GetBytes(r.Raw, "sequencialCompra").Int())
}

// MunicipalityCode returns the IBGE municipality code.
func (r Record) MunicipalityCode() string {
	return gjson.GetBytes(r.Raw, "codigoMunicipioIbge").String()
}

// AgencyCNPJ returns the issuing agency tax identifier.
func (r Record) AgencyCNPJ() string {
	return gjson.GetBytes(r.Raw, "orgaoEntidade.cnpj").String()
}

// AgencyName returns the issuing agency display name.
func (r Record) AgencyName() string {
	return gjson.GetBytes(r.Raw, "orgaoEntidade.razaoSocial").String()
}

// Object returns the free-text procurement object description.
func (r Record) Object() string {
	return gjson.GetBytes(r.Raw, "objetoCompra").String()
}

// EstimatedValue returns the estimated total value, zero when absent.
func (r Record) EstimatedValue() float64 {
	return gjson.GetBytes(r.Raw, "valorTotalEstimado").Float()
}

// HomologatedValue returns the homologated total value, nil when absent.
func (r Record) HomologatedValue() *float64 {
	field := gjson.GetBytes(r.Raw, "valorTotalHomologado")
	if !field.Exists() || field.Type == gjson.Null {
		return nil
	}
	value := field.Float()
	return &value
}

// Status returns the registry purchase status text.
func (r Record) Status() string {
	return gjson.GetBytes(r.Raw, "situacaoCompra").String()
}

// PublishedAt parses the registry publication timestamp. The second return
// value reports whether a timestamp was present and parseable.
func (r Record) PublishedAt() (time.Time, bool) {
	raw := gjson.GetBytes(r.Raw, "dataPublicacaoPncp").String()
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range publicationLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// PortalLink builds the public portal URL for the notice, empty when the
// natural key fields are incomplete.
func (r Record) PortalLink() string {
	return BuildPortalLink(r.AgencyCNPJ(), r.PurchaseYear(), r.PurchaseSequence())
}

// BuildPortalLink assembles the portal URL from the notice natural key.
func BuildPortalLink(cnpj string, year, sequence int) string {
	if cnpj == "" || year == 0 || sequence == 0 {
		return ""
	}
	return fmt.Sprintf("%s/%s/%d/%d", portalBaseURL, cnpj, year, sequence)
}
