package pncp

import "testing"

func TestDecodeEnvelopeBareArray(t *testing.T) {
	records := decodeEnvelope([]byte(`[{"anoCompra":2024},{"anoCompra":2025}]`))
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestDecodeEnvelopeWrappedKeys(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected int
	}{
		{name: "data key", body: `{"data":[{"anoCompra":2024}]}`, expected: 1},
		{name: "content key", body: `{"content":[{"anoCompra":2024},{"anoCompra":2025}]}`, expected: 2},
		{name: "items key", body: `{"items":[{"anoCompra":2024}]}`, expected: 1},
		{name: "empty data key", body: `{"data":[]}`, expected: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			records := decodeEnvelope([]byte(tc.body))
			if len(records) != tc.expected {
				t.Fatalf("expected %d records, got %d", tc.expected, len(records))
			}
		})
	}
}

func TestDecodeEnvelopePrefersDataOverContent(t *testing.T) {
	body := `{"content":[{"anoCompra":2023},{"anoCompra":2024}],"data":[{"anoCompra":2025}]}`
	records := decodeEnvelope([]byte(body))
	if len(records) != 1 {
		t.Fatalf("expected the data key to win, got %d records", len(records))
	}
}

func TestDecodeEnvelopeFallsBackToFirstArrayField(t *testing.T) {
	body := `{"totalRegistros":3,"resultado":[{"anoCompra":2024},{"anoCompra":2025}]}`
	records := decodeEnvelope([]byte(body))
	if len(records) != 2 {
		t.Fatalf("expected fallback array extraction, got %d records", len(records))
	}
}

func TestDecodeEnvelopeEmptyObject(t *testing.T) {
	records := decodeEnvelope([]byte(`{}`))
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestDecodeEnvelopeNonJSON(t *testing.T) {
	records := decodeEnvelope([]byte(`not json at all`))
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}
