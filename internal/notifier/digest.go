package notifier

import (
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/lilkinjongun/pncp-monitor/internal/notices"
)

// objectBudget caps the free-text object description in the digest.
const objectBudget = 200

var digestFuncs = template.FuncMap{
	"brl":      FormatBRL,
	"brDate":   FormatDate,
	"truncate": Truncate,
}

var htmlDigest = template.Must(template.New("digest").Funcs(digestFuncs).Parse(`<html>
<body style="font-family: Arial, sans-serif; color: #222;">
<h2>Novas Contratações Públicas - {{.Municipality}}</h2>
<p>{{len .Notices}} nova(s) contratação(ões) publicada(s) no PNCP.</p>
{{range .Notices}}<div style="border: 1px solid #ddd; margin: 8px 0; padding: 10px;">
<p><strong>{{.ModalityName}}</strong> — {{.Status}}</p>
<p>{{truncate .Object}}</p>
<p>Valor estimado: {{brl .EstimatedValue}} | Publicada em: {{brDate .PublishedAt}}</p>
{{if .PortalLink}}<p><a href="{{.PortalLink}}">Ver no portal PNCP</a></p>{{end}}
</div>
{{end}}<p style="color: #888; font-size: 12px;">Mensagem automática do PNCP Monitor.</p>
</body>
</html>
`))

var plainDigest = texttemplate.Must(texttemplate.New("digest").Funcs(texttemplate.FuncMap(digestFuncs)).Parse(`Novas Contratações Públicas - {{.Municipality}}
{{len .Notices}} nova(s) contratação(ões) publicada(s) no PNCP.
{{range .Notices}}
- {{.ModalityName}} ({{.Status}})
  {{truncate .Object}}
  Valor estimado: {{brl .EstimatedValue}} | Publicada em: {{brDate .PublishedAt}}
{{- if .PortalLink}}
  {{.PortalLink}}
{{- end}}
{{end}}
Mensagem automática do PNCP Monitor.
`))

// digestData feeds both digest renderings.
type digestData struct {
	Municipality string
	Notices      []notices.Notice
}

// renderHTML produces the rich digest body.
func renderHTML(municipality string, batch []notices.Notice) (string, error) {
	var builder strings.Builder
	err := htmlDigest.Execute(&builder, digestData{Municipality: municipality, Notices: batch})
	if err != nil {
		return "", fmt.Errorf("notifier: render html digest: %w", err)
	}
	return builder.String(), nil
}

// renderPlain produces the plain-text fallback body.
func renderPlain(municipality string, batch []notices.Notice) (string, error) {
	var builder strings.Builder
	err := plainDigest.Execute(&builder, digestData{Municipality: municipality, Notices: batch})
	if err != nil {
		return "", fmt.Errorf("notifier: render plain digest: %w", err)
	}
	return builder.String(), nil
}

// FormatBRL renders a value as Brazilian currency, e.g. "R$ 1.234.567,89".
func FormatBRL(value float64) string {
	raw := fmt.Sprintf("%.2f", value)
	parts := strings.SplitN(raw, ".", 2)
	whole, cents := parts[0], parts[1]

	negative := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")

	var grouped strings.Builder
	for index, digit := range whole {
		remaining := len(whole) - index
		if index > 0 && remaining%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(digit)
	}

	sign := ""
	if negative {
		sign = "-"
	}
	return fmt.Sprintf("R$ %s%s,%s", sign, grouped.String(), cents)
}

// FormatDate renders a timestamp as dd/mm/yyyy, empty for the zero time.
func FormatDate(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format("02/01/2006")
}

// Truncate caps text at the digest object budget, appending an ellipsis marker.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= objectBudget {
		return text
	}
	return string(runes[:objectBudget]) + "..."
}
