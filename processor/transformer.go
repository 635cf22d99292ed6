package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	appconfig "hivetax/config"
	"hivetax/internal"
	"hivetax/logger"
	"hivetax/models"
)

// Transformer turns history operations into ledger rows. It runs a single
// worker so rows leave in the same order operations arrive.
type Transformer struct {
	config   *appconfig.Config
	rate     decimal.Decimal
	channels *internal.Channels
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

// NewTransformer builds a transformer bound to the precomputed conversion
// rate. The rate never changes for the lifetime of the run.
func NewTransformer(cfg *appconfig.Config, rate float64, channels *internal.Channels) *Transformer {
	return &Transformer{
		config:   cfg,
		rate:     decimal.NewFromFloat(rate),
		channels: channels,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (t *Transformer) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("transformer already running")
	}
	t.running = true
	t.mu.Unlock()

	log := t.log.WithComponent("transformer").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{"conversion_rate": t.rate.String()}).Info("starting transformer")

	t.wg.Add(1)
	go t.worker(ctx)

	return nil
}

func (t *Transformer) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()

	t.log.WithComponent("transformer").Info("stopping transformer")
	t.wg.Wait()
	t.log.WithComponent("transformer").Info("transformer stopped")
}

func (t *Transformer) worker(ctx context.Context) {
	defer t.wg.Done()
	defer t.channels.CloseRows()

	log := t.log.WithComponent("transformer")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case op, ok := <-t.channels.Operations:
			if !ok {
				log.Info("operations channel closed, worker stopping")
				return
			}

			rows, err := t.Transform(op)
			if err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"op_index": op.Index,
					"op_name":  op.Name,
				}).Error("failed to transform operation")
				t.channels.ReportError(err)
				return
			}

			for _, row := range rows {
				if !t.send(ctx, row) {
					return
				}
			}
		}
	}
}

func (t *Transformer) send(ctx context.Context, row models.LedgerRow) bool {
	select {
	case t.channels.Rows <- row:
	case <-ctx.Done():
		return false
	}
	t.channels.IncrementRowsSent()

	if t.channels.KafkaRows != nil {
		select {
		case t.channels.KafkaRows <- row:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Transform classifies one operation and produces its output rows. Kinds
// outside the recognized set yield no rows and no error.
func (t *Transformer) Transform(op models.Operation) ([]models.LedgerRow, error) {
	ts := op.Timestamp.Format(models.RowTimeLayout)

	switch op.Kind {
	case models.OpClaimRewardBalance:
		return t.transformClaimReward(ts, op)
	case models.OpInterest:
		return t.transformInterest(ts, op)
	case models.OpFillConvertRequest:
		return t.transformConvertFill(ts, op)
	case models.OpFillOrder:
		return t.transformOrderFill(ts, op)
	case models.OpIgnored:
		return nil, nil
	default:
		return nil, nil
	}
}

// transformClaimReward emits up to three income rows, one per strictly
// positive reward balance. The VESTS balance is valued in HIVE at the run's
// conversion rate and reported as HP with exactly three decimals.
func (t *Transformer) transformClaimReward(ts string, op models.Operation) ([]models.LedgerRow, error) {
	var payload models.ClaimRewardBalanceOp
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed claim_reward_balance payload at %d: %w", op.Index, err)
	}

	hive, err := parseRewardAmount(payload.RewardHive, "0.000 HIVE")
	if err != nil {
		return nil, err
	}
	hbd, err := parseRewardAmount(payload.RewardHBD, "0.000 HBD")
	if err != nil {
		return nil, err
	}
	vests, err := parseRewardAmount(payload.RewardVests, "0.000000 VESTS")
	if err != nil {
		return nil, err
	}

	var rows []models.LedgerRow
	if hive.IsPositive() {
		rows = append(rows, incomeRow(ts, hive.Digits(), hive.Symbol))
	}
	if hbd.IsPositive() {
		rows = append(rows, incomeRow(ts, hbd.Digits(), hbd.Symbol))
	}
	if hp := vests.Value.Mul(t.rate); hp.IsPositive() {
		rows = append(rows, incomeRow(ts, hp.StringFixed(3), "HP"))
	}
	return rows, nil
}

func (t *Transformer) transformInterest(ts string, op models.Operation) ([]models.LedgerRow, error) {
	var payload models.InterestOp
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed interest payload at %d: %w", op.Index, err)
	}

	amount, err := parseRewardAmount(payload.Interest, "0.000 HBD")
	if err != nil {
		return nil, err
	}

	return []models.LedgerRow{{
		Time:       ts,
		Type:       models.CategoryInterest,
		In:         amount.Digits(),
		InCurrency: amount.Symbol,
	}}, nil
}

func (t *Transformer) transformConvertFill(ts string, op models.Operation) ([]models.LedgerRow, error) {
	var payload models.FillConvertRequestOp
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed fill_convert_request payload at %d: %w", op.Index, err)
	}

	in, err := models.ParseAsset(payload.AmountIn)
	if err != nil {
		return nil, err
	}
	out, err := models.ParseAsset(payload.AmountOut)
	if err != nil {
		return nil, err
	}

	return []models.LedgerRow{{
		Time:        ts,
		Type:        models.CategoryTransaction,
		In:          in.Digits(),
		InCurrency:  in.Symbol,
		Out:         out.Digits(),
		OutCurrency: out.Symbol,
		Market:      models.MarketHiveInternal,
		Note:        models.NoteConversion,
	}}, nil
}

func (t *Transformer) transformOrderFill(ts string, op models.Operation) ([]models.LedgerRow, error) {
	var payload models.FillOrderOp
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed fill_order payload at %d: %w", op.Index, err)
	}

	current, err := models.ParseAsset(payload.CurrentPays)
	if err != nil {
		return nil, err
	}
	open, err := models.ParseAsset(payload.OpenPays)
	if err != nil {
		return nil, err
	}

	return []models.LedgerRow{{
		Time:        ts,
		Type:        models.CategoryTrade,
		In:          current.Digits(),
		InCurrency:  current.Symbol,
		Out:         open.Digits(),
		OutCurrency: open.Symbol,
		Market:      models.MarketHiveInternal,
		Note:        models.NoteTrade,
	}}, nil
}

// parseRewardAmount parses an asset string, substituting a zero default when
// the feed omitted the field entirely.
func parseRewardAmount(raw, fallback string) (models.Asset, error) {
	if raw == "" {
		raw = fallback
	}
	return models.ParseAsset(raw)
}

func incomeRow(ts, amount, currency string) models.LedgerRow {
	return models.LedgerRow{
		Time:       ts,
		Type:       models.CategoryIncome,
		In:         amount,
		InCurrency: currency,
	}
}
