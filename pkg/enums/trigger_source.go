package enums

// TriggerSource names what started a reconciliation pass.
type TriggerSource string

const (
	TriggerPoll        TriggerSource = "poll"
	TriggerSweep       TriggerSource = "sweep"
	TriggerEvent       TriggerSource = "event"
	TriggerManualRetry TriggerSource = "manual_retry"
)

// String implements fmt.Stringer.
func (t TriggerSource) String() string {
	return string(t)
}
