package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	appconfig "hivetax/config"
	"hivetax/internal"
	"hivetax/models"
)

func minimalConfig() *appconfig.Config {
	return &appconfig.Config{
		Hivetax: appconfig.AppConfig{Name: "test", Version: "1.0"},
	}
}

func makeOp(t *testing.T, name, timestamp, payload string) models.Operation {
	t.Helper()
	ts, err := time.Parse(models.OperationTimeLayout, timestamp)
	if err != nil {
		t.Fatalf("parse timestamp: %v", err)
	}
	return models.Operation{
		Timestamp: ts,
		Kind:      models.OpKindFromName(name),
		Name:      name,
		Payload:   json.RawMessage(payload),
	}
}

func TestTransformFillOrder(t *testing.T) {
	tr := NewTransformer(minimalConfig(), 1.0, nil)

	op := makeOp(t, "fill_order", "2023-05-01T12:00:00",
		`{"current_owner":"alice","current_pays":"1.000 HIVE","open_owner":"bob","open_pays":"0.500 HBD"}`)

	rows, err := tr.Transform(op)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	want := models.LedgerRow{
		Time:        "2023-05-01 12:00:00",
		Type:        "Trade",
		In:          "1.000",
		InCurrency:  "HIVE",
		Out:         "0.500",
		OutCurrency: "HBD",
		Market:      "Hive Internal Market",
		Note:        "Trade",
	}
	if rows[0] != want {
		t.Errorf("unexpected row:\n got %+v\nwant %+v", rows[0], want)
	}
}

func TestTransformClaimRewardSingleBalance(t *testing.T) {
	tr := NewTransformer(minimalConfig(), 2.0, nil)

	op := makeOp(t, "claim_reward_balance", "2023-06-15T09:30:00",
		`{"account":"alice","reward_hive":"0 HIVE","reward_hbd":"2.500 HBD","reward_vests":"0 VESTS"}`)

	rows, err := tr.Transform(op)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	want := models.LedgerRow{
		Time:       "2023-06-15 09:30:00",
		Type:       "Income",
		In:         "2.500",
		InCurrency: "HBD",
	}
	if rows[0] != want {
		t.Errorf("unexpected row:\n got %+v\nwant %+v", rows[0], want)
	}
}

func TestTransformClaimRewardAllBalances(t *testing.T) {
	tr := NewTransformer(minimalConfig(), 0.0005, nil)

	op := makeOp(t, "claim_reward_balance", "2023-06-15T09:30:00",
		`{"account":"alice","reward_hive":"1.250 HIVE","reward_hbd":"2.500 HBD","reward_vests":"1000.000000 VESTS"}`)

	rows, err := tr.Transform(op)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].In != "1.250" || rows[0].InCurrency != "HIVE" {
		t.Errorf("unexpected hive row: %+v", rows[0])
	}
	if rows[1].In != "2.500" || rows[1].InCurrency != "HBD" {
		t.Errorf("unexpected hbd row: %+v", rows[1])
	}
	if rows[2].In != "0.500" || rows[2].InCurrency != "HP" {
		t.Errorf("unexpected hp row: %+v", rows[2])
	}
}

func TestTransformClaimRewardAllZero(t *testing.T) {
	tr := NewTransformer(minimalConfig(), 2.0, nil)

	op := makeOp(t, "claim_reward_balance", "2023-06-15T09:30:00",
		`{"account":"alice","reward_hive":"0 HIVE","reward_hbd":"0 HBD","reward_vests":"0 VESTS"}`)

	rows, err := tr.Transform(op)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows, got %d", len(rows))
	}
}

func TestTransformHPAmountAlwaysThreeDecimals(t *testing.T) {
	tr := NewTransformer(minimalConfig(), 1.0/3.0, nil)

	op := makeOp(t, "claim_reward_balance", "2023-06-15T09:30:00",
		`{"account":"alice","reward_hive":"0 HIVE","reward_hbd":"0 HBD","reward_vests":"1.000000 VESTS"}`)

	rows, err := tr.Transform(op)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].In != "0.333" {
		t.Errorf("expected three decimal HP amount, got %q", rows[0].In)
	}
}

func TestTransformInterest(t *testing.T) {
	tr := NewTransformer(minimalConfig(), 2.0, nil)

	op := makeOp(t, "interest", "2023-04-01T08:00:00", `{"owner":"alice","interest":"0.042 HBD"}`)

	rows, err := tr.Transform(op)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Type != "Interest" || rows[0].In != "0.042" || rows[0].InCurrency != "HBD" {
		t.Errorf("unexpected row: %+v", rows[0])
	}
}

func TestTransformConvertFill(t *testing.T) {
	tr := NewTransformer(minimalConfig(), 2.0, nil)

	op := makeOp(t, "fill_convert_request", "2023-08-01T00:00:00",
		`{"owner":"alice","requestid":1,"amount_in":"10.000 HBD","amount_out":"25.000 HIVE"}`)

	rows, err := tr.Transform(op)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.Type != "Transaction" || r.In != "10.000" || r.InCurrency != "HBD" ||
		r.Out != "25.000" || r.OutCurrency != "HIVE" ||
		r.Market != "Hive Internal Market" || r.Note != "Conversion" {
		t.Errorf("unexpected row: %+v", r)
	}
}

func TestTransformIgnoredOperation(t *testing.T) {
	tr := NewTransformer(minimalConfig(), 2.0, nil)

	op := makeOp(t, "transfer", "2023-05-01T12:00:00", `{"from":"alice","to":"bob","amount":"1.000 HIVE"}`)

	rows, err := tr.Transform(op)
	if err != nil {
		t.Fatalf("Transform returned error for ignored op: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows for ignored op, got %d", len(rows))
	}
}

func TestTransformMalformedAmount(t *testing.T) {
	tr := NewTransformer(minimalConfig(), 2.0, nil)

	op := makeOp(t, "interest", "2023-04-01T08:00:00", `{"owner":"alice","interest":"not-an-amount"}`)

	if _, err := tr.Transform(op); err == nil {
		t.Fatalf("expected error for malformed amount")
	}
}

func TestTransformerPipelinePreservesOrder(t *testing.T) {
	channels := internal.NewChannels(8, 8, 4, false)
	tr := NewTransformer(minimalConfig(), 2.0, channels)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := tr.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}

	channels.Operations <- makeOp(t, "interest", "2023-01-01T00:00:00", `{"owner":"alice","interest":"0.001 HBD"}`)
	channels.Operations <- makeOp(t, "interest", "2023-02-01T00:00:00", `{"owner":"alice","interest":"0.002 HBD"}`)
	channels.CloseOperations()

	var rows []models.LedgerRow
	for row := range channels.Rows {
		rows = append(rows, row)
	}
	tr.Stop()

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Time != "2023-01-01 00:00:00" || rows[1].Time != "2023-02-01 00:00:00" {
		t.Errorf("rows out of order: %+v", rows)
	}
}

func TestConversionRate(t *testing.T) {
	props := &models.DynamicGlobalProperties{
		TotalVestingFundHive: "180000000.000 HIVE",
		TotalVestingShares:   "300000000000.000000 VESTS",
	}
	rate, err := ConversionRate(props)
	if err != nil {
		t.Fatalf("ConversionRate failed: %v", err)
	}
	if rate != 0.0006 {
		t.Errorf("unexpected rate: %v", rate)
	}
}

func TestConversionRateZeroShares(t *testing.T) {
	props := &models.DynamicGlobalProperties{
		TotalVestingFundHive: "180000000.000 HIVE",
		TotalVestingShares:   "0.000000 VESTS",
	}
	if _, err := ConversionRate(props); err == nil {
		t.Fatalf("expected error for zero share supply")
	}
}
