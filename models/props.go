package models

// DynamicGlobalProperties is the subset of the network-wide state returned by
// condenser_api.get_dynamic_global_properties that the exporter needs for the
// VESTS to HIVE conversion rate.
type DynamicGlobalProperties struct {
	HeadBlockNumber      int64  `json:"head_block_number"`
	Time                 string `json:"time"`
	TotalVestingFundHive string `json:"total_vesting_fund_hive"`
	TotalVestingShares   string `json:"total_vesting_shares"`
}
