package strategy

import (
	"fmt"
	"time"
)

type State int

const (
	Initializing State = iota
	Monitoring
	PositionOpen
	Expired
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Monitoring:
		return "monitoring"
	case PositionOpen:
		return "position_open"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Position string

const (
	None  Position = "none"
	Long  Position = "long"
	Short Position = "short"
)

func ParsePosition(s string) (Position, error) {
	switch p := Position(s); p {
	case None, Long, Short:
		return p, nil
	case "":
		return None, nil
	default:
		return None, fmt.Errorf("unknown position %q", s)
	}
}

type Side string

const (
	Enter Side = "enter"
	Exit  Side = "exit"
)

// Intent is a request to enter or exit a position. Amount is nil on entry
// until the sizer fills it in; StopPrice is only meaningful on entry.
type Intent struct {
	Pair      string
	Side      Side
	Position  Position
	Amount    *float64
	StopPrice float64
	Leverage  int
}

// Instance is the lifecycle state every strategy carries. The scheduler
// reads and persists it; strategies move it through the state machine with
// the methods below.
type Instance struct {
	ID           string
	Name         string
	Pair         string
	CreationTime time.Time
	State        State
	Position     Position
	Amount       float64
	EntryPrice   float64
	ExitPrice    float64
	IsExecuted   bool
	IsExpired    bool
	DaysElapsed  int
	Leverage     int
	LongAllowed  bool
	ShortAllowed bool
}

func (i *Instance) HasPosition() bool {
	return i.Position == Long || i.Position == Short
}

// CanOpen reports whether the instance was tagged eligible for pos.
func (i *Instance) CanOpen(pos Position) bool {
	switch pos {
	case Long:
		return i.LongAllowed
	case Short:
		return i.ShortAllowed
	}
	return false
}

// Activate moves a freshly initialized instance to Monitoring.
func (i *Instance) Activate() {
	if i.State == Initializing {
		i.State = Monitoring
	}
}

// Open moves the instance into pos and returns the entry intent.
func (i *Instance) Open(pos Position, stop float64) Intent {
	i.Position = pos
	i.State = PositionOpen
	return Intent{Pair: i.Pair, Side: Enter, Position: pos, StopPrice: stop, Leverage: i.Leverage}
}

// Close flattens the instance and returns the exit intent for whatever
// position was open.
func (i *Instance) Close() Intent {
	amount := i.Amount
	in := Intent{Pair: i.Pair, Side: Exit, Position: i.Position, Amount: &amount, Leverage: i.Leverage}
	i.Position = None
	if i.State != Expired {
		i.State = Monitoring
	}
	return in
}

// Expire marks the instance terminal.
func (i *Instance) Expire() {
	i.IsExpired = true
	i.State = Expired
}

// Filled records a confirmed execution of in.
func (i *Instance) Filled(in Intent, price, amount float64) {
	switch in.Side {
	case Enter:
		i.Amount = amount
		i.EntryPrice = price
		i.ExitPrice = 0
		i.IsExecuted = true
		i.Leverage = in.Leverage
	case Exit:
		i.ExitPrice = price
	}
}

// AbortEntry undoes Open after the entry could not be executed.
func (i *Instance) AbortEntry() {
	i.Position = None
	i.Amount = 0
	if i.State == PositionOpen {
		i.State = Monitoring
	}
}

// AbortExit undoes Close after the exit could not be executed. The expiry
// flag is left alone; an expired instance that still holds a position is
// retried through liquidation.
func (i *Instance) AbortExit(in Intent) {
	i.Position = in.Position
	if in.Amount != nil {
		i.Amount = *in.Amount
	}
	if i.State != Expired {
		i.State = PositionOpen
	}
}
