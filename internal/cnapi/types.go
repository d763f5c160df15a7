package cnapi

// SnapshotDate is one entry of the dates listing.
type SnapshotDate struct {
	Date   string `json:"date"`
	Finish bool   `json:"finish"`
}

// DatesResponse lists snapshot directories, oldest first.
type DatesResponse struct {
	Dates  []SnapshotDate `json:"dates"`
	Latest string         `json:"latest,omitempty"` // newest finished snapshot
}

// ReadinessResponse is the readiness verdict of one snapshot.
type ReadinessResponse struct {
	Date        string   `json:"date"`
	Finish      bool     `json:"finish"`
	Good        bool     `json:"good"`
	Kinds       []string `json:"kinds"`
	Instruments int      `json:"instruments"`
	Problems    []string `json:"problems"`
}

// SummaryResponse describes the last trade date of a finished snapshot.
type SummaryResponse struct {
	Date      string  `json:"date"`
	Bars      int     `json:"bars"`
	Amount    float64 `json:"amount"` // thousand CNY
	Advancers int     `json:"advancers"`
	Decliners int     `json:"decliners"`
	Unchanged int     `json:"unchanged"`
	Missing   int     `json:"missing"`
	Text      string  `json:"text"`
}

// SymbolDay is one trading day in symbol history. Valuation fields are
// omitted when the archive has no daily_basic row for the day or the metric
// is null.
type SymbolDay struct {
	Date         string   `json:"date"`
	Open         float64  `json:"open"`
	High         float64  `json:"high"`
	Low          float64  `json:"low"`
	Close        float64  `json:"close"`
	PctChg       float64  `json:"pctChg"`
	Vol          float64  `json:"vol"`
	Amount       float64  `json:"amount"`
	TurnoverRate *float64 `json:"turnoverRate,omitempty"`
	PETTM        *float64 `json:"peTTM,omitempty"`
	PB           *float64 `json:"pb,omitempty"`
	TotalMV      *float64 `json:"totalMV,omitempty"`
}

// SymbolHistoryResponse is the archived history of one instrument.
type SymbolHistoryResponse struct {
	Code string      `json:"code"`
	Days []SymbolDay `json:"days"`
}

// SymbolsResponse lists the codes held by the archive for one kind.
type SymbolsResponse struct {
	Kind  string   `json:"kind"`
	Codes []string `json:"codes"`
}
