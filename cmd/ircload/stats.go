package main

import (
	"sync/atomic"
	"time"
)

// Stats tracks load test counters. All fields are updated from bot goroutines.
type Stats struct {
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	totalLatency     atomic.Int64 // in microseconds, over received messages
	sendFailures     atomic.Int64
	errorReplies     atomic.Int64
	disconnections   atomic.Int64
	successfulBots   atomic.Int64

	// Connect phase failure breakdown
	connectDialFailed     atomic.Int64
	connectRegisterFailed atomic.Int64
	connectJoinFailed     atomic.Int64
}

func (s *Stats) recordSent() {
	s.messagesSent.Add(1)
}

func (s *Stats) recordReceived(latency time.Duration) {
	s.messagesReceived.Add(1)
	s.totalLatency.Add(latency.Microseconds())
}

func (s *Stats) recordSendFailure() {
	s.sendFailures.Add(1)
}

func (s *Stats) recordErrorReply() {
	s.errorReplies.Add(1)
}

func (s *Stats) recordDisconnection() {
	s.disconnections.Add(1)
}

func (s *Stats) connectErrors() int64 {
	return s.connectDialFailed.Load() + s.connectRegisterFailed.Load() + s.connectJoinFailed.Load()
}

// snapshot returns the headline numbers
func (s *Stats) snapshot() (sent, received, failed int64, avgLatencyUs float64) {
	sent = s.messagesSent.Load()
	received = s.messagesReceived.Load()
	failed = s.sendFailures.Load()

	if received > 0 {
		avgLatencyUs = float64(s.totalLatency.Load()) / float64(received)
	}
	return
}
