package indicator

// Noop implements Indicator but does nothing.
// Used when no indicators are configured.
type Noop struct{}

func (n *Noop) Idle()                {}
func (n *Noop) Verifying()           {}
func (n *Noop) Granted(plate string) {}
func (n *Noop) Denied(reason string) {}
func (n *Noop) Connected()           {}
func (n *Noop) ConnectionLost()      {}
func (n *Noop) Shutdown()            {}
func (n *Noop) Release() error       { return nil }
