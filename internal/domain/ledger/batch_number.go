package ledger

import (
	"fmt"
	"time"
)

// BatchNumberKey is the singleton sequence key backing generated batch numbers
const BatchNumberKey = "batch_number"

// FormatBatchNumber encodes a sequence value into the human-facing batch
// number: BN-YYYYMMDD-XXXX. The number is unique per store, not globally
// sequential; externally supplied batch numbers share the same namespace, so
// a generated value can collide and callers must retry with a fresh sequence.
func FormatBatchNumber(date time.Time, seq int64) string {
	return fmt.Sprintf("BN-%s-%04d", date.Format("20060102"), seq)
}

// BatchNumberMode selects how ReceiveGoods determines the batch number.
// Modeling the three cases explicitly avoids presence/absence ambiguity in
// the request payload.
type BatchNumberMode string

const (
	// BatchNumberGenerate issues a fresh number from the sequence (default)
	BatchNumberGenerate BatchNumberMode = "GENERATE"
	// BatchNumberSupplied uses the externally supplied value as-is
	BatchNumberSupplied BatchNumberMode = "SUPPLIED"
)

// BatchNumberSpec is the explicit three-state batch-number input: generate,
// or set to a supplied value. (A zero-value spec means generate.)
type BatchNumberSpec struct {
	Mode  BatchNumberMode
	Value string
}

// IsSupplied returns true when the caller provided the batch number
func (s BatchNumberSpec) IsSupplied() bool {
	return s.Mode == BatchNumberSupplied && s.Value != ""
}
