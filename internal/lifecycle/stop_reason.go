package lifecycle

// StopReason is used for structured shutdown tracing, mirroring the
// teacher's internal/core.StopReason.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopRequested  StopReason = "requested"
)
