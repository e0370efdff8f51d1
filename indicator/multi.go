package indicator

import "errors"

// Multi combines multiple Indicator implementations.
type Multi struct {
	indicators []Indicator
}

// NewMulti fans every call out to inds in order.
func NewMulti(inds ...Indicator) *Multi {
	return &Multi{indicators: inds}
}

func (m *Multi) each(fn func(Indicator)) {
	for _, ind := range m.indicators {
		fn(ind)
	}
}

func (m *Multi) Idle()                { m.each(func(i Indicator) { i.Idle() }) }
func (m *Multi) Verifying()           { m.each(func(i Indicator) { i.Verifying() }) }
func (m *Multi) Granted(plate string) { m.each(func(i Indicator) { i.Granted(plate) }) }
func (m *Multi) Denied(reason string) { m.each(func(i Indicator) { i.Denied(reason) }) }
func (m *Multi) Connected()           { m.each(func(i Indicator) { i.Connected() }) }
func (m *Multi) ConnectionLost()      { m.each(func(i Indicator) { i.ConnectionLost() }) }
func (m *Multi) Shutdown()            { m.each(func(i Indicator) { i.Shutdown() }) }

// Release implements Indicator.Release.
func (m *Multi) Release() error {
	var errs []error
	for _, ind := range m.indicators {
		errs = append(errs, ind.Release())
	}
	return errors.Join(errs...)
}
