/*
Package resilience provides a circuit breaker for failing connection targets.

# Overview

A Group holds one Breaker per target (host:port). When a target keeps
failing at the transport level its breaker opens and further calls fail
fast until the open timeout elapses; then a limited number of trial calls
decide whether it closes again.

# Usage

	group := resilience.NewGroup(resilience.Settings{
		TrialCalls:  1,
		Timeout:     30 * time.Second,
		ReadyToTrip: resilience.TripAfter(10),
	})

	done, err := group.Get("api.example.com:443").Allow()
	if err != nil {
		return err // resilience.ErrCircuitOpen
	}
	resp, err := send()
	done(err == nil)

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[trial calls succeed]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
