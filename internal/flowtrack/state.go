// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package flowtrack

import "time"

// advance runs the state machine transition table (§4.6) for one
// segment against session s, already known to be in direction toServer
// (packet travels from client to server). Named functions replace the
// original's state++ sub-state arithmetic (§9) so each transition's
// precondition is visible at its call site instead of implied by
// increment order.
func advance(s *Session, toServer bool, seg Segment) SessionState {
	flags := seg.TCPH.Flags().Masked()

	switch s.State {
	case S1:
		return transitionS1(s, toServer, flags, seg)
	case S2:
		return transitionS2(toServer, flags)
	case S3:
		return transitionS3(s, toServer, seg)
	case Established:
		return transitionEstablished(toServer, flags)
	case CF1, CF2, CF3, SF1, SF2, SF3:
		return transitionFinTeardown(s.State, toServer, flags)
	case Closed:
		return Closed
	default:
		return s.State
	}
}

// transitionS1 handles the post-handshake-SYN state (§4.6 table, S1
// row). A SYN resend from the client is a no-op; a SYN (or SYN+ACK)
// from the server allocates the server's window state and advances to
// S2; a FIN or RST from the server refuses the connection outright.
// Anything else leaves the state unchanged; neither this function nor
// Track logs it.
func transitionS1(s *Session, toServer bool, flags Flags, seg Segment) SessionState {
	if toServer {
		if flags.Has(FlagSYN) {
			return S1
		}
		return S1
	}

	switch {
	case flags.Has(FlagSYN):
		initServerWindow(s, seg)
		return S2
	case flags.Has(FlagFIN), flags.Has(FlagRST):
		return Closed
	default:
		return S1
	}
}

// transitionS2 handles the SYN+ACK-seen state: the client's ACK
// advances to S3; a SYN+ACK resend from the server is a no-op.
func transitionS2(toServer bool, flags Flags) SessionState {
	if toServer && flags.Has(FlagACK) && !flags.Has(FlagSYN) {
		return S3
	}
	return S2
}

// transitionS3 handles the ACK-for-SYN-seen, no-data-yet state: the
// first data-bearing segment in either direction advances to
// Established and records which side sent it first (§4.6, E1).
func transitionS3(s *Session, toServer bool, seg Segment) SessionState {
	if seg.Len > 0 {
		if !s.sawFirstData {
			s.sawFirstData = true
			s.FirstClientData = toServer
		}
		return Established
	}
	return S3
}

// transitionEstablished handles the data-flowing state: a FIN from
// either side starts that side's teardown sequence.
func transitionEstablished(toServer bool, flags Flags) SessionState {
	if flags.Has(FlagFIN) {
		if toServer {
			return CF1
		}
		return SF1
	}
	return Established
}

// finStage returns the 1/2/3 stage of a CF/SF state, and clientCloser
// reports whether the client (as opposed to the server) sent the first
// FIN.
func finStage(state SessionState) (stage int, clientCloser bool) {
	switch state {
	case CF1:
		return 1, true
	case CF2:
		return 2, true
	case CF3:
		return 3, true
	case SF1:
		return 1, false
	case SF2:
		return 2, false
	case SF3:
		return 3, false
	default:
		return 0, false
	}
}

func finState(clientCloser bool, stage int) SessionState {
	if clientCloser {
		return []SessionState{0, CF1, CF2, CF3}[stage]
	}
	return []SessionState{0, SF1, SF2, SF3}[stage]
}

// transitionFinTeardown handles the three-stage bidirectional FIN
// teardown shared by client-initiated (CF) and server-initiated (SF)
// closes (§4.6 table, xF1-xF3 rows). The "closer" is whichever side
// sent the first FIN; simultaneous close (a FIN arriving from the
// non-closer while still in stage 1) advances by one stage exactly
// like a plain ACK would.
func transitionFinTeardown(state SessionState, toServer bool, flags Flags) SessionState {
	stage, clientCloser := finStage(state)
	fromCloser := clientCloser == toServer

	switch stage {
	case 1:
		if !fromCloser && (flags.Has(FlagACK) || flags.Has(FlagFIN)) {
			return finState(clientCloser, 2)
		}
		if fromCloser && flags.Has(FlagFIN) {
			return state // fin resend
		}
	case 2:
		if !fromCloser && flags.Has(FlagFIN) {
			return finState(clientCloser, 3)
		}
	case 3:
		if fromCloser && flags.Has(FlagACK) {
			return Closed
		}
	}
	return state
}

// initServerWindow initializes the server's direction state on receipt
// of its SYN(+ACK) (§4.6): snd_una = seq+1, snd_nxt = snd_una+1,
// rcv_wnd from the segment's window, rcv_nxt/rcv_wup from the client's
// snd_nxt, and flags/scale/ts from the segment's SYN options.
func initServerWindow(s *Session, seg Segment) {
	so := parseOptionsSyn(seg.TCPH.Options())

	s.SWnd = TCPState{
		SndUna: seg.Seq + 1,
		SndNxt: seg.Seq + 2,
		RcvNxt: s.CWnd.SndNxt,
		RcvWup: s.CWnd.SndNxt,
		RcvWnd: seg.Win,
	}
	applySynOptions(&s.SWnd, so, seg.TS)
	s.SWndValid = true
}

// initClientWindow initializes the client's direction state on session
// creation from its opening SYN (§4.6).
func initClientWindow(s *Session, seg Segment) {
	so := parseOptionsSyn(seg.TCPH.Options())
	s.CWnd = TCPState{
		SndUna: seg.Seq + 1,
		SndNxt: seg.Seq + 2,
		RcvWnd: seg.Win,
		// rcv_wup = rcv_nxt at creation: both are left at their zero
		// value, and no later segment updates them (§4.6).
		RcvWup: 0,
	}
	applySynOptions(&s.CWnd, so, seg.TS)
}

func applySynOptions(dir *TCPState, so SynOptions, ts time.Duration) {
	if so.SACKOK {
		dir.Flags |= SACKOK
	}
	if so.WScaleOK {
		dir.Flags |= WSCALEOK
		dir.Scale = so.WScale
	}
	if so.TSOK {
		dir.Flags |= TSTAMPOK
		dir.TSRecent = so.TSVal
		dir.TSRecentStamp = ts
	}
}
