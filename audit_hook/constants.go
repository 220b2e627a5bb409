package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountCreated = "account.created"

	// Transfer actions
	ActionDepositPosted        = "deposit.posted"
	ActionWithdrawalReserved   = "withdrawal.reserved"
	ActionWithdrawalCommitted  = "withdrawal.committed"
	ActionWithdrawalRolledBack = "withdrawal.rolled_back"
	ActionTransfersExpired     = "transfers.expired"
	ActionTransferRejected     = "transfer.rejected"

	// Liquidity actions
	ActionLiquidityLow = "liquidity.low"
)

// Resource constants for audit events.
const (
	ResourceAccount   = "account"
	ResourceTransfer  = "transfer"
	ResourceLiquidity = "liquidity"
)

// Category constants for audit events.
const (
	CategoryDirectory = "directory"
	CategoryLedger    = "ledger"
	CategoryTreasury  = "treasury"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
