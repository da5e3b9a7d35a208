// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

// optionState tracks one side of one telnet option.
type optionState struct {
	enabled bool
	// requested is set while our own WILL/DO is unanswered.
	requested bool
	// refused is set once the peer declined the option.
	refused bool
}

// optionTable holds negotiation state for both sides of every option.
// local options are ones the server performs (WILL/WONT), remote options are
// ones the client performs (DO/DONT from our side).
type optionTable struct {
	local  [256]optionState
	remote [256]optionState
}

var (
	supportedLocal = map[byte]bool{
		OptEcho:            true,
		OptSuppressGoAhead: true,
	}
	supportedRemote = map[byte]bool{
		OptTerminalType: true,
		OptNAWS:         true,
	}
)

// request marks an option as asked for by the server and returns the bytes to send.
func (o *optionTable) request(verb, opt byte) []byte {
	switch verb {
	case WILL:
		o.local[opt].requested = true
	case DO:
		o.remote[opt].requested = true
	}
	return Negotiation(verb, opt)
}

// receive applies an inbound WILL/WONT/DO/DONT and returns the reply, if any,
// and whether the remote side just became enabled.
func (o *optionTable) receive(verb, opt byte) (reply []byte, enabled bool) {
	switch verb {
	case WILL:
		st := &o.remote[opt]
		if !supportedRemote[opt] {
			return Negotiation(DONT, opt), false
		}
		if st.enabled {
			st.requested = false
			return nil, false
		}
		st.enabled = true
		st.refused = false
		if !st.requested {
			reply = Negotiation(DO, opt)
		}
		st.requested = false
		return reply, true

	case WONT:
		st := &o.remote[opt]
		if !st.enabled && !st.requested {
			st.refused = true
			return nil, false
		}
		if !st.requested {
			reply = Negotiation(DONT, opt)
		}
		st.enabled = false
		st.requested = false
		st.refused = true
		return reply, false

	case DO:
		st := &o.local[opt]
		if !supportedLocal[opt] {
			return Negotiation(WONT, opt), false
		}
		if st.enabled {
			st.requested = false
			return nil, false
		}
		st.enabled = true
		st.refused = false
		if !st.requested {
			reply = Negotiation(WILL, opt)
		}
		st.requested = false
		return reply, false

	case DONT:
		st := &o.local[opt]
		if !st.enabled && !st.requested {
			st.refused = true
			return nil, false
		}
		if !st.requested {
			reply = Negotiation(WONT, opt)
		}
		st.enabled = false
		st.requested = false
		st.refused = true
		return reply, false
	}
	return nil, false
}
