package processor

import (
	"fmt"

	"hivetax/models"
)

// ConversionRate derives the HIVE value of one VEST from the network state:
// total vesting fund divided by total vesting share supply. It is computed
// once per run and applied to every VESTS amount regardless of the
// operation's own timestamp; using the historical per-operation rate is a
// deliberate non-goal.
func ConversionRate(props *models.DynamicGlobalProperties) (float64, error) {
	fund, err := models.ParseAsset(props.TotalVestingFundHive)
	if err != nil {
		return 0, fmt.Errorf("malformed total_vesting_fund_hive: %w", err)
	}

	shares, err := models.ParseAsset(props.TotalVestingShares)
	if err != nil {
		return 0, fmt.Errorf("malformed total_vesting_shares: %w", err)
	}
	if !shares.IsPositive() {
		return 0, fmt.Errorf("total_vesting_shares must be positive, got %s", shares)
	}

	return fund.Float() / shares.Float(), nil
}
