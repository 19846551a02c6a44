// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	"github.com/ManuGH/pvrd/internal/platform/clock/clocktest"
	"github.com/ManuGH/pvrd/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	epoch   = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	channel = model.Channel{ID: 100, InputID: "tuner0", DisplayNumber: "2", URI: "tv://tuner0/2", PhysicalTuner: true}
)

type mockAlarm struct {
	mock.Mock
	c chan time.Time
}

func newMockAlarm() *mockAlarm { return &mockAlarm{c: make(chan time.Time, 1)} }

func (m *mockAlarm) Set(at time.Time)    { m.Called(at) }
func (m *mockAlarm) Cancel()             { m.Called() }
func (m *mockAlarm) C() <-chan time.Time { return m.c }

type mockPool struct {
	mock.Mock
}

func (m *mockPool) CanAcquire(inputID string, ch model.Channel) bool {
	return m.Called(inputID, ch).Bool(0)
}

func (m *mockPool) Acquire(inputID string, ch model.Channel) (ports.RecordingSession, error) {
	args := m.Called(inputID, ch)
	sess, _ := args.Get(0).(ports.RecordingSession)
	return sess, args.Error(1)
}

// fakeSession records calls and by default reports connected from Connect.
type fakeSession struct {
	mu         sync.Mutex
	calls      []string
	cb         ports.Callback
	connectErr error
	startErr   error
	silent     bool
	released   bool
}

func (s *fakeSession) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *fakeSession) Kind() ports.SessionKind { return ports.KindRecording }

func (s *fakeSession) Connect(inputID string, cb ports.Callback) error {
	s.record("connect:" + inputID)
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	if !s.silent {
		cb.OnConnected()
	}
	return nil
}

func (s *fakeSession) StartRecord(channelURI, mediaURI string) error {
	s.record("start:" + channelURI)
	return s.startErr
}

func (s *fakeSession) StopRecord() error {
	s.record("stop")
	return nil
}

func (s *fakeSession) Delete(mediaURI string) error {
	s.record("delete")
	return nil
}

func (s *fakeSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.calls = append(s.calls, "release")
}

func (s *fakeSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *fakeSession) callback() ports.Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb
}

// grantingPool hands out sess for every acquisition.
func grantingPool(sess *fakeSession) *mockPool {
	p := &mockPool{}
	p.On("CanAcquire", channel.InputID, mock.Anything).Return(true)
	p.On("Acquire", channel.InputID, mock.Anything).Return(sess, nil)
	return p
}

func addRecording(t *testing.T, st *memory.Store, start, end time.Time) model.Recording {
	t.Helper()
	r, err := st.AddRecording(context.Background(), model.Recording{
		Channel: channel,
		Start:   start,
		End:     end,
	})
	require.NoError(t, err)
	return r
}

func loadRecording(t *testing.T, st *memory.Store, id int64) model.Recording {
	t.Helper()
	r, err := st.Recording(context.Background(), id)
	require.NoError(t, err)
	return r
}

func waitTimers(t *testing.T, clk *clocktest.Fake, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clk.BlockUntil(ctx, n))
}

func waitState(t *testing.T, st *memory.Store, id int64, want model.RecordingState) {
	t.Helper()
	require.Eventually(t, func() bool {
		r, err := st.Recording(context.Background(), id)
		return err == nil && r.State == want
	}, 2*time.Second, 5*time.Millisecond, "recording %d never reached %s", id, want)
}
