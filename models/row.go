package models

// Row category labels understood by the downstream accounting tools.
const (
	CategoryIncome      = "Income"
	CategoryInterest    = "Interest"
	CategoryTransaction = "Transaction"
	CategoryTrade       = "Trade"
)

// Labels for rows originating from the chain's internal market.
const (
	MarketHiveInternal = "Hive Internal Market"
	NoteConversion     = "Conversion"
	NoteTrade          = "Trade"
)

// RowTimeLayout is the timestamp format written into the Time column.
const RowTimeLayout = "2006-01-02 15:04:05"

// LedgerRow is one output line of the export. The Fee columns are part of the
// fixed schema but no recognized operation kind populates them.
type LedgerRow struct {
	Time        string `json:"time"`
	Type        string `json:"type"`
	In          string `json:"in"`
	InCurrency  string `json:"in_currency"`
	Out         string `json:"out"`
	OutCurrency string `json:"out_currency"`
	Fee         string `json:"fee"`
	FeeCurrency string `json:"fee_currency"`
	Market      string `json:"market"`
	Note        string `json:"note"`
}

// RowHeader returns the fixed 10-column header, written exactly once at the
// start of every export file.
func RowHeader() []string {
	return []string{"Time", "Type", "In", "In-Currency", "Out", "Out-Currency", "Fee", "Fee-Currency", "Market", "Note"}
}

// Record flattens the row into the column order of RowHeader.
func (r LedgerRow) Record() []string {
	return []string{r.Time, r.Type, r.In, r.InCurrency, r.Out, r.OutCurrency, r.Fee, r.FeeCurrency, r.Market, r.Note}
}
