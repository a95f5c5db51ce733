package core

// Listener observes an Engine. Notifications are delivered synchronously on
// the goroutine that caused them; state changes are delivered while the
// engine holds its state lock, so a Listener must not call back into the
// lifecycle methods (StartScan, PauseScan, Resume, StopScan, Shutdown).
type Listener interface {
	OnStateChanged(engineID int64, state FuzzerState)
	OnResultAdded(engineID int64, result *Result, interesting bool)
	OnCountersUpdated(engineID int64, completed, total, errors int64)
	OnFuzzerDisposed(engineID int64)
}

// NopListener implements Listener with no-ops. Embed it to implement only
// the notifications you need.
type NopListener struct{}

func (NopListener) OnStateChanged(int64, FuzzerState)            {}
func (NopListener) OnResultAdded(int64, *Result, bool)           {}
func (NopListener) OnCountersUpdated(int64, int64, int64, int64) {}
func (NopListener) OnFuzzerDisposed(int64)                       {}

// Callback receives every completed non-learning result.
type Callback interface {
	HandleResult(result *Result)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(result *Result)

func (f CallbackFunc) HandleResult(result *Result) { f(result) }

// listenerList is an immutable snapshot; registration swaps in a new slice.
type listenerList []Listener

func (l listenerList) with(add Listener) listenerList {
	out := make(listenerList, 0, len(l)+1)
	out = append(out, l...)
	return append(out, add)
}

func (l listenerList) without(rm Listener) listenerList {
	out := make(listenerList, 0, len(l))
	for _, x := range l {
		if x != rm {
			out = append(out, x)
		}
	}
	return out
}
