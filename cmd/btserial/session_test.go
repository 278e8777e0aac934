package main

import (
	"testing"
	"time"

	"github.com/srg/btserial/pkg/link"
	"github.com/stretchr/testify/suite"
)

// SessionTestSuite drives a real Manager through the in-memory transport.
type SessionTestSuite struct {
	suite.Suite

	adapter *fakeAdapter
	device  *fakeDevice
}

func (s *SessionTestSuite) SetupTest() {
	s.adapter = &fakeAdapter{devices: []link.Device{
		{ID: "1", Name: "Other", Address: "11:11"},
		{ID: "2", Name: "BMX-001", Address: "AA:BB"},
	}}
	s.device = &fakeDevice{}
	installFakeTransport(s.T(), s.adapter, s.device)
}

func (s *SessionTestSuite) TestSendAndReceive() {
	// GOAL: Verify the wiring from config to manager: connect by prefix, write, and read the reply
	//
	// TEST SCENARIO: session opens -> Connected to BMX-001 -> send "ping" reaches the socket -> "pong" reaches the handler
	reply := &replyBuffer{}
	sess, err := newSession(fastConfig("bmx"), quietLogger(), reply)
	s.Require().NoError(err)
	defer sess.Close()

	sub, err := sess.start(link.EventConnected, link.EventFailed)
	s.Require().NoError(err)
	defer sub.Close()

	dev, err := sendOnce(s.T().Context(), sess.manager, sub.C(), []byte("ping"), 2*time.Second)
	s.Require().NoError(err)
	s.Equal("BMX-001", dev.Name, "only the prefix match MUST be connected")

	sock := s.device.Socket()
	s.Require().NotNil(sock)
	s.Equal("ping", sock.out.String())

	sock.in.Push([]byte("pong"))
	s.Eventually(func() bool { return string(reply.Bytes()) == "pong" }, 2*time.Second, 5*time.Millisecond,
		"bytes from the device MUST reach the handler")
}

func (s *SessionTestSuite) TestRefusingDeviceFails() {
	s.device.refuse = true

	sess, err := newSession(fastConfig("BMX"), quietLogger(), nil)
	s.Require().NoError(err)
	defer sess.Close()

	sub, err := sess.start(link.EventConnected, link.EventFailed)
	s.Require().NoError(err)
	defer sub.Close()

	_, err = sendOnce(s.T().Context(), sess.manager, sub.C(), []byte("ping"), 5*time.Second)
	s.ErrorIs(err, link.ErrExhausted)
}

func (s *SessionTestSuite) TestNoMatchingDevice() {
	sess, err := newSession(fastConfig("XYZ"), quietLogger(), nil)
	s.Require().NoError(err)
	defer sess.Close()

	_, err = sess.start()
	s.ErrorIs(err, link.ErrNoCandidates)
	s.Equal(0, sess.bus.Len(), "the subscription MUST be released when start fails")
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
