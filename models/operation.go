package models

import (
	"encoding/json"
	"time"
)

// OpKind enumerates the account history operation kinds the exporter
// understands. Everything else the feed may deliver maps to OpIgnored and
// produces no output rows.
type OpKind int

const (
	OpIgnored OpKind = iota
	OpClaimRewardBalance
	OpInterest
	OpFillConvertRequest
	OpFillOrder
)

// Blockchain operation IDs from the condenser serialization order. Virtual
// operations start at 50, directly after the last signed operation kind.
const (
	opIDClaimRewardBalance = 39
	opIDFillConvertRequest = 50
	opIDInterest           = 55
	opIDFillOrder          = 57
)

var opKindNames = map[OpKind]string{
	OpClaimRewardBalance: "claim_reward_balance",
	OpInterest:           "interest",
	OpFillConvertRequest: "fill_convert_request",
	OpFillOrder:          "fill_order",
}

var opKindIDs = map[OpKind]uint{
	OpClaimRewardBalance: opIDClaimRewardBalance,
	OpInterest:           opIDInterest,
	OpFillConvertRequest: opIDFillConvertRequest,
	OpFillOrder:          opIDFillOrder,
}

// OpKindFromName maps a condenser operation name to its kind. Both the bare
// name ("fill_order") and the suffixed form ("fill_order_operation") used by
// newer API namespaces are accepted.
func OpKindFromName(name string) OpKind {
	const suffix = "_operation"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		name = name[:len(name)-len(suffix)]
	}
	for kind, n := range opKindNames {
		if n == name {
			return kind
		}
	}
	return OpIgnored
}

// Name returns the condenser operation name for the kind, or an empty string
// for OpIgnored.
func (k OpKind) Name() string {
	return opKindNames[k]
}

// RecognizedOps lists the operation kinds included in the history request.
func RecognizedOps() []OpKind {
	return []OpKind{OpClaimRewardBalance, OpInterest, OpFillConvertRequest, OpFillOrder}
}

// OperationFilter builds the get_account_history bitmask pair selecting the
// given kinds. All recognized kinds have IDs below 64, so the high word is
// only populated for hypothetical future kinds.
func OperationFilter(kinds []OpKind) (low, high uint64) {
	for _, k := range kinds {
		id, ok := opKindIDs[k]
		if !ok {
			continue
		}
		if id < 64 {
			low |= 1 << id
		} else {
			high |= 1 << (id - 64)
		}
	}
	return low, high
}

// Operation is a single account history entry as delivered by the feed. The
// payload stays raw until the transformer decodes it into the kind specific
// structure.
type Operation struct {
	Index     int64
	TrxID     string
	Block     int64
	Timestamp time.Time
	Kind      OpKind
	Name      string
	Payload   json.RawMessage
}

// ClaimRewardBalanceOp carries the three reward sub-amounts of a
// claim_reward_balance operation.
type ClaimRewardBalanceOp struct {
	Account     string `json:"account"`
	RewardHive  string `json:"reward_hive"`
	RewardHBD   string `json:"reward_hbd"`
	RewardVests string `json:"reward_vests"`
}

// InterestOp is the virtual operation credited when HBD interest is paid.
type InterestOp struct {
	Owner    string `json:"owner"`
	Interest string `json:"interest"`
}

// FillConvertRequestOp is the virtual operation produced when an HBD to HIVE
// conversion request settles.
type FillConvertRequestOp struct {
	Owner     string `json:"owner"`
	RequestID int64  `json:"requestid"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
}

// FillOrderOp is the virtual operation produced when an internal market limit
// order is matched.
type FillOrderOp struct {
	CurrentOwner   string `json:"current_owner"`
	CurrentOrderID int64  `json:"current_orderid"`
	CurrentPays    string `json:"current_pays"`
	OpenOwner      string `json:"open_owner"`
	OpenOrderID    int64  `json:"open_orderid"`
	OpenPays       string `json:"open_pays"`
}

// OperationTimeLayout is the timestamp format used by Hive API responses.
// Values carry no timezone designator and are UTC.
const OperationTimeLayout = "2006-01-02T15:04:05"
