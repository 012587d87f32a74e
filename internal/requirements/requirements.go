// Package requirements watches OS-level preconditions and reports a
// bitmask of the ones currently not met (C3).
package requirements

import "github.com/tinoosan/streamctl/internal/data"

// Watcher observes environment preconditions. Start returns the
// current not-met bitmask and thereafter delivers changed bitmasks to
// the callback passed at construction, until Stop is called. Every
// callback is treated by the scheduler as a single event on its loop.
type Watcher interface {
	Start(req data.Requirements) (notMet uint32, err error)
	Stop()
}

// NotMet computes the current not-met bitmask for req given
// individually observed booleans, matching the bit layout in package
// data.
func NotMet(req data.Requirements, networkUp, charging, idle bool) uint32 {
	var mask uint32
	if req.NetworkRequired && !networkUp {
		mask |= data.ReqNetwork
	}
	if req.RequireCharging && !charging {
		mask |= data.ReqCharging
	}
	if req.RequireIdle && !idle {
		mask |= data.ReqIdle
	}
	return mask
}
