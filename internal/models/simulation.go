package models

// SimulationOutcome describes how a simulated trade ended.
type SimulationOutcome string

const (
	// OutcomeNoBreakout means price never crossed the neckline; Return is 0.
	OutcomeNoBreakout SimulationOutcome = "NO_BREAKOUT"
	// OutcomeExited means a breakout happened and the walk found an exit bar.
	OutcomeExited SimulationOutcome = "EXITED"
)

// ExitReason tells which band the price left at the exit bar.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitStopLoss   ExitReason = "STOP_LOSS"
)

// SimulationResult is the outcome of simulating one pattern instance.
type SimulationResult struct {
	Pattern PatternInstance
	Outcome SimulationOutcome
	// Return is 1 - exit/neckline for HS (short) and exit/neckline for IHS (long).
	Return float64
	// Neckline is the neckline level at the entry bar.
	Neckline   float64
	TakeProfit float64
	StopLoss   float64
	EntryIndex int
	// ExitBar is the bar that left the bands; ExitIndex (ExitBar+1) is the fill.
	ExitBar    int
	ExitIndex  int
	ExitPrice  float64
	ExitReason ExitReason
}

// Breakout reports whether the simulated trade was opened.
func (r SimulationResult) Breakout() bool {
	return r.Outcome == OutcomeExited
}

// NetReturn expresses both sides as a net fraction: IHS returns are
// gross price ratios and get 1 subtracted.
func (r SimulationResult) NetReturn() float64 {
	if !r.Breakout() {
		return 0
	}
	if r.Pattern.Kind == InverseHeadAndShoulders {
		return r.Return - 1
	}
	return r.Return
}

// HoldingBars is the number of bars between entry and the exit fill.
func (r SimulationResult) HoldingBars() int {
	if !r.Breakout() {
		return 0
	}
	return r.ExitIndex - r.EntryIndex
}
