package kdevice

import (
	"time"

	"github.com/r58Playz/kdeconnect/kdeerr"
	"github.com/r58Playz/kdeconnect/packet"
)

// pairPromptTimeout is the 30-second protocol convention for an
// unresolved inbound pair prompt (spec §4.7.1, §8 B4). A var, not a
// const, so tests can shrink it rather than waiting out 30s for real.
var pairPromptTimeout = 30 * time.Second

// handlePair runs the inbound pair state machine (spec §4.7.1).
// initiated_pair/pair_event are this session's single-waiter rendezvous
// with a locally-initiated pair request, adapted from the teacher's
// internal/events single-waiter gate: instead of a mutex held across
// the wait, a fresh channel is closed to wake exactly one waiter per
// attempt (spec §9's equivalence note).
func (s *Session) handlePair(p packet.Pair) {
	paired := s.IsPaired()
	initiated := s.initiatedPair.Get()

	switch {
	case paired && p.Pair:
		s.log.Infof("session %s: ignoring pair request, already paired", s.DeviceID())

	case initiated && !paired && !p.Pair:
		s.initiatedPair.Set(false)
		s.firePairEvent()

	case !paired && !p.Pair && !initiated:
		s.log.Infof("session %s: ignoring spurious unpair", s.DeviceID())

	case !paired && p.Pair:
		shouldPair := initiated || s.promptForPair()
		s.initiatedPair.Set(false)
		if !initiated {
			s.send(packet.TypePair, packet.Pair{Pair: shouldPair})
		}
		if shouldPair {
			s.setRecordCertificate(s.peerCert.Raw)
			if err := s.persistRecord(); err != nil {
				s.log.Errorf("session %s: persist pair: %v", s.DeviceID(), err)
			}
			s.handler.HandlePairStatusChange(true)
			s.sendBurst()
		}
		if initiated {
			s.firePairEvent()
		}

	case paired && !p.Pair:
		s.setRecordCertificate(nil)
		if err := s.persistRecord(); err != nil {
			s.log.Errorf("session %s: persist unpair: %v", s.DeviceID(), err)
		}
		s.handler.HandlePairStatusChange(false)
	}
}

// promptForPair asks the handler whether to accept an inbound pair
// request, declining if unresolved within 30s.
func (s *Session) promptForPair() bool {
	result := make(chan bool, 1)
	go func() { result <- s.handler.HandlePairRequest() }()

	select {
	case v := <-result:
		return v
	case <-time.After(pairPromptTimeout):
		return false
	}
}

func (s *Session) setRecordCertificate(der []byte) {
	s.recordMu.Lock()
	s.record.Certificate = der
	s.recordMu.Unlock()
}

// firePairEvent wakes a waiter blocked in awaitPairEvent, if any.
func (s *Session) firePairEvent() {
	s.pairMu.Lock()
	if s.pairEvent != nil {
		close(s.pairEvent)
		s.pairEvent = nil
	}
	s.pairMu.Unlock()
}

func (s *Session) armPairEvent() chan struct{} {
	s.pairMu.Lock()
	defer s.pairMu.Unlock()
	ch := make(chan struct{})
	s.pairEvent = ch
	return ch
}

// initiatePair drives a locally-initiated pair request (spec §4.7.1):
// send Pair{true}, mark initiated, then hand reply off to a waiter
// goroutine blocked on pair_event. initiatePair itself must return
// immediately — it runs on the session's own loop goroutine, the same
// one that later calls firePairEvent while processing the peer's
// reply, so waiting here inline would deadlock the session against
// itself.
func (s *Session) initiatePair(reply chan<- error) {
	if s.IsPaired() {
		reply <- kdeerr.ErrDeviceAlreadyPaired
		return
	}

	ch := s.armPairEvent()
	s.initiatedPair.Set(true)
	if err := s.send(packet.TypePair, packet.Pair{Pair: true}); err != nil {
		reply <- kdeerr.Wrap(kdeerr.TagIo, err)
		return
	}

	go func() {
		<-ch
		if s.IsPaired() {
			reply <- nil
		} else {
			reply <- kdeerr.ErrDeviceRejectedPair
		}
	}()
}

// initiateUnpair drives a locally-initiated unpair. Unlike pair, this
// has no peer round-trip to await, so it can run and reply inline.
func (s *Session) initiateUnpair(reply chan<- error) {
	if err := s.send(packet.TypePair, packet.Pair{Pair: false}); err != nil {
		reply <- kdeerr.Wrap(kdeerr.TagIo, err)
		return
	}
	s.setRecordCertificate(nil)
	if err := s.persistRecord(); err != nil {
		reply <- kdeerr.Wrap(kdeerr.TagIo, err)
		return
	}
	s.handler.HandlePairStatusChange(false)
	reply <- nil
}
