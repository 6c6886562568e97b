package entity

// ControlSignal steers the pipeline workers from the control surface.
type ControlSignal uint8

const (
	ControlStart ControlSignal = iota + 1
	ControlStop
	ControlStartTrading
	ControlStopTrading
)

func (c ControlSignal) String() string {
	switch c {
	case ControlStart:
		return "START"
	case ControlStop:
		return "STOP"
	case ControlStartTrading:
		return "START_TRADING"
	case ControlStopTrading:
		return "STOP_TRADING"
	default:
		return "UNKNOWN"
	}
}
