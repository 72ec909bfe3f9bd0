package pncp

import "sort"

// Modalities maps PNCP procurement modality codes to their display names.
var Modalities = map[int]string{
	1:  "Leilão - Eletrônico",
	2:  "Diálogo Competitivo",
	3:  "Concurso",
	4:  "Concorrência - Eletrônica",
	5:  "Concorrência - Presencial",
	6:  "Pregão - Eletrônico",
	7:  "Pregão - Presencial",
	8:  "Dispensa de Licitação",
	9:  "Inexigibilidade",
	10: "Manifestação de Interesse",
	11: "Pré-qualificação",
	12: "Credenciamento",
	13: "Leilão - Presencial",
}

// AllModalityCodes returns every known modality code in ascending order.
func AllModalityCodes() []int {
	codes := make([]int, 0, len(Modalities))
	for code := range Modalities {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// ModalityName resolves a modality code to its display name.
func ModalityName(code int) string {
	if name, ok := Modalities[code]; ok {
		return name
	}
	return "Desconhecida"
}
