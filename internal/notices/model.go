package notices

import "time"

// Notice models one persisted procurement notice. The canonical natural key is
// (agency CNPJ, purchase year, purchase sequence), enforced by a unique index;
// the weaker (purchase number, year) pair is kept as a plain secondary index
// for lookups against sources that omit the agency identifier.
type Notice struct {
	ID               uint       `gorm:"column:id;primaryKey;autoIncrement"`
	PurchaseNumber   string     `gorm:"column:numero_compra;size:50;index:idx_contratacoes_numero_ano,priority:1"`
	PurchaseYear     int        `gorm:"column:ano_compra;not null;uniqueIndex:idx_contratacoes_chave,priority:2;index:idx_contratacoes_numero_ano,priority:2"`
	PurchaseSequence int        `gorm:"column:sequencial_compra;not null;uniqueIndex:idx_contratacoes_chave,priority:3"`
	MunicipalityCode string     `gorm:"column:codigo_ibge;size:7"`
	AgencyCNPJ       string     `gorm:"column:cnpj_orgao;size:14;not null;uniqueIndex:idx_contratacoes_chave,priority:1"`
	AgencyName       string     `gorm:"column:orgao_nome;size:255"`
	Object           string     `gorm:"column:objeto;type:text"`
	EstimatedValue   float64    `gorm:"column:valor_estimado"`
	HomologatedValue *float64   `gorm:"column:valor_homologado"`
	ModalityCode     int        `gorm:"column:modalidade_codigo;index:idx_contratacoes_modalidade"`
	ModalityName     string     `gorm:"column:modalidade_nome;size:100"`
	PublishedAt      time.Time  `gorm:"column:data_publicacao;index:idx_contratacoes_publicacao"`
	Status           string     `gorm:"column:situacao;size:50"`
	PortalLink       string     `gorm:"column:link_pncp"`
	RawPayload       string     `gorm:"column:dados_completos;type:text"`
	CapturedAt       time.Time  `gorm:"column:data_captura;not null"`
	Notified         bool       `gorm:"column:notificado;not null;default:false;index:idx_contratacoes_notificado"`
	NotifiedAt       *time.Time `gorm:"column:data_notificacao"`
}

// TableName provides the explicit table binding for GORM.
func (Notice) TableName() string {
	return "contratacoes"
}

// ExecutionLog is one append-only record of a reconciliation run.
type ExecutionLog struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	ExecutedAt time.Time `gorm:"column:data_execucao;not null"`
	FoundCount int       `gorm:"column:contratacoes_encontradas;not null"`
	NewCount   int       `gorm:"column:contratacoes_novas;not null"`
	Success    bool      `gorm:"column:sucesso;not null"`
	Message    string    `gorm:"column:mensagem"`
}

// TableName provides the explicit table binding for GORM.
func (ExecutionLog) TableName() string {
	return "log_execucoes"
}
