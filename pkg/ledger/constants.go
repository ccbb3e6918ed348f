package ledger

// SystemEmployeeID is the identity recorded on administrative movements.
const SystemEmployeeID = "hutom"

// Bounds enforced on the aggregate total, overridable via service options.
const (
	DefaultCreditCeiling     int64 = 9999
	DefaultShortageThreshold int64 = 9
)

const (
	operationAllocate     = "allocate"
	operationRevoke       = "revoke"
	operationRecordUse    = "record_use"
	operationRecordCancel = "record_cancel"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultHistoryLimit = 20
)
