/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/meshwatch/pkg/logger"
	"github.com/carverauto/meshwatch/pkg/meshcore"
	"github.com/carverauto/meshwatch/pkg/models"
	"github.com/carverauto/meshwatch/pkg/store"
)

// testClock advances instantly on After so multi-second cycles run in
// microseconds while elapsed time stays observable through Now.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1700000000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now

	return ch
}

// MockCommands is a mock implementation of the meshcore.Commands interface.
type MockCommands struct {
	mock.Mock
}

func (m *MockCommands) GetContacts(ctx context.Context) ([]string, map[string]meshcore.Contact, error) {
	args := m.Called(ctx)

	var (
		keys     []string
		contacts map[string]meshcore.Contact
	)

	if args.Get(0) != nil {
		keys = args.Get(0).([]string)
	}

	if args.Get(1) != nil {
		contacts = args.Get(1).(map[string]meshcore.Contact)
	}

	return keys, contacts, args.Error(2)
}

func (m *MockCommands) SendLogin(ctx context.Context, contact meshcore.Contact, password string) error {
	args := m.Called(ctx, contact, password)
	return args.Error(0)
}

func (m *MockCommands) SetPath(ctx context.Context, contact meshcore.Contact, path []byte) error {
	args := m.Called(ctx, contact, path)
	return args.Error(0)
}

func (m *MockCommands) ResetPath(ctx context.Context, pubKey string) error {
	args := m.Called(ctx, pubKey)
	return args.Error(0)
}

func (m *MockCommands) RequestStatus(ctx context.Context, contact meshcore.Contact, timeout time.Duration) (*meshcore.StatusPayload, error) {
	args := m.Called(ctx, contact, timeout)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*meshcore.StatusPayload), args.Error(1)
}

func (m *MockCommands) RequestTelemetry(ctx context.Context, contact meshcore.Contact, timeout time.Duration) ([]meshcore.TelemetrySensor, error) {
	args := m.Called(ctx, contact, timeout)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]meshcore.TelemetrySensor), args.Error(1)
}

func (m *MockCommands) Close() error {
	args := m.Called()
	return args.Error(0)
}

const (
	keyA = "aaaa222200000000"
	keyB = "bbbb111100000000"
)

func twoRepeaterSettings() models.Settings {
	return models.Settings{
		CompanionHost: "10.0.0.5",
		CompanionPort: 5000,
		Repeaters: []models.RepeaterConfig{
			{Name: "repeater-a", PubKey: keyA},
			{Name: "repeater-b", PubKey: keyB, AdminPass: "hunter2"},
		},
		PollIntervalSeconds:   120,
		StaggerDelaySeconds:   15,
		StaleThresholdSeconds: 900,
		LogRetentionHours:     24,
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New("", func() time.Duration { return 15 * time.Minute }, logger.NewTestLogger())
	require.NoError(t, err)

	return s
}

func contactsForBoth() ([]string, map[string]meshcore.Contact) {
	return []string{keyA, keyB}, map[string]meshcore.Contact{
		keyA: {PublicKey: keyA, Hops: 1, RoutePath: "4d"},
		keyB: {PublicKey: keyB, Hops: 2, RoutePath: "4d > 3c"},
	}
}

func statusFor(bat, rssi int) *meshcore.StatusPayload {
	snr := 212.0

	return &meshcore.StatusPayload{
		BatteryMV: &bat,
		LastRSSI:  &rssi,
		LastSNR:   &snr,
	}
}

func TestPollCycleOrderAndStagger(t *testing.T) {
	mockClient := &MockCommands{}
	clock := newTestClock()
	st := newTestStore(t)
	log := logger.NewTestLogger()

	p := New(st, twoRepeaterSettings, clock, log)
	p.Dial = func(context.Context, string, int, logger.Logger) (*meshcore.Session, error) {
		return meshcore.NewSession(mockClient, log), nil
	}

	keys, contacts := contactsForBoth()

	var (
		loginMu    sync.Mutex
		loginOrder []string
		loginTimes []time.Time
	)

	cycleDone := make(chan struct{})

	var doneOnce sync.Once

	mockClient.On("GetContacts", mock.Anything).Return(keys, contacts, nil)
	mockClient.On("ResetPath", mock.Anything, mock.Anything).Return(nil)
	mockClient.On("Close").Return(nil)

	mockClient.On("SendLogin", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			contact := args.Get(1).(meshcore.Contact)

			loginMu.Lock()
			loginOrder = append(loginOrder, contact.PublicKey)
			loginTimes = append(loginTimes, clock.Now())
			loginMu.Unlock()
		}).Return(nil)

	mockClient.On("RequestStatus", mock.Anything, mock.Anything, mock.Anything).
		Return(statusFor(4100, -97), nil)

	mockClient.On("RequestTelemetry", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if args.Get(1).(meshcore.Contact).PublicKey == keyB {
				doneOnce.Do(func() { close(cycleDone) })
			}
		}).Return([]meshcore.TelemetrySensor{}, nil)

	errCh := make(chan error, 1)

	go func() { errCh <- p.Start(context.Background()) }()

	select {
	case <-cycleDone:
	case <-time.After(5 * time.Second):
		t.Fatal("poll cycle never reached repeater B")
	}

	require.NoError(t, p.Stop(context.Background()))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}

	loginMu.Lock()
	defer loginMu.Unlock()

	// Devices are polled strictly in list order, one at a time.
	require.GreaterOrEqual(t, len(loginOrder), 2)
	assert.Equal(t, keyA, loginOrder[0])
	assert.Equal(t, keyB, loginOrder[1])

	// B's interaction starts at least a full stagger delay after A's.
	gap := loginTimes[1].Sub(loginTimes[0])
	assert.GreaterOrEqual(t, gap, 15*time.Second)

	devices := st.ListAll()
	require.Len(t, devices, 2)

	byKey := make(map[string]models.DeviceState, len(devices))
	for _, d := range devices {
		byKey[d.PubKey] = d
	}

	// Route info and merged status both landed in the store.
	assert.Equal(t, 1, byKey[keyA].Hops)
	assert.Equal(t, "4d > 3c", byKey[keyB].RoutePath)
	assert.Equal(t, 4100, byKey[keyA].BatteryMV)
	assert.InDelta(t, 53.0, byKey[keyA].SNR, 0.0001)
}

func TestPollCyclePasswords(t *testing.T) {
	mockClient := &MockCommands{}
	clock := newTestClock()
	st := newTestStore(t)
	log := logger.NewTestLogger()

	p := New(st, twoRepeaterSettings, clock, log)
	p.Dial = func(context.Context, string, int, logger.Logger) (*meshcore.Session, error) {
		return meshcore.NewSession(mockClient, log), nil
	}

	keys, contacts := contactsForBoth()

	cycleDone := make(chan struct{})

	var doneOnce sync.Once

	mockClient.On("GetContacts", mock.Anything).Return(keys, contacts, nil)
	mockClient.On("ResetPath", mock.Anything, mock.Anything).Return(nil)
	mockClient.On("Close").Return(nil)
	mockClient.On("RequestStatus", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, meshcore.ErrRequestTimeout)
	mockClient.On("RequestTelemetry", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if args.Get(1).(meshcore.Contact).PublicKey == keyB {
				doneOnce.Do(func() { close(cycleDone) })
			}
		}).Return(nil, meshcore.ErrRequestTimeout)

	// A has no password configured and gets the firmware default; B
	// uses its own.
	mockClient.On("SendLogin", mock.Anything,
		mock.MatchedBy(func(c meshcore.Contact) bool { return c.PublicKey == keyA }),
		meshcore.DefaultAdminPassword).Return(nil)
	mockClient.On("SendLogin", mock.Anything,
		mock.MatchedBy(func(c meshcore.Contact) bool { return c.PublicKey == keyB }),
		"hunter2").Return(nil)

	errCh := make(chan error, 1)

	go func() { errCh <- p.Start(context.Background()) }()

	select {
	case <-cycleDone:
	case <-time.After(5 * time.Second):
		t.Fatal("poll cycle never reached repeater B")
	}

	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, <-errCh)

	mockClient.AssertExpectations(t)
}

func TestCompanionAddressChangeReconnects(t *testing.T) {
	mockClient := &MockCommands{}
	clock := newTestClock()
	st := newTestStore(t)
	log := logger.NewTestLogger()

	var (
		settingsMu sync.Mutex
		settings   = twoRepeaterSettings()
	)

	settings.Repeaters = nil

	snapshot := func() models.Settings {
		settingsMu.Lock()
		defer settingsMu.Unlock()

		return settings
	}

	p := New(st, snapshot, clock, log)

	var (
		dialMu    sync.Mutex
		dialHosts []string
	)

	redialed := make(chan struct{})

	var redialOnce sync.Once

	p.Dial = func(_ context.Context, host string, _ int, _ logger.Logger) (*meshcore.Session, error) {
		dialMu.Lock()
		dialHosts = append(dialHosts, host)
		count := len(dialHosts)
		dialMu.Unlock()

		if count >= 2 {
			redialOnce.Do(func() { close(redialed) })
		}

		return meshcore.NewSession(mockClient, log), nil
	}

	mockClient.On("Close").Return(nil)
	mockClient.On("GetContacts", mock.Anything).
		Run(func(mock.Arguments) {
			// Flip the companion address after the first listing; the
			// cycle loop must notice and reconnect.
			settingsMu.Lock()
			settings.CompanionHost = "10.0.0.6"
			settingsMu.Unlock()
		}).Return([]string{}, map[string]meshcore.Contact{}, nil)

	errCh := make(chan error, 1)

	go func() { errCh <- p.Start(context.Background()) }()

	select {
	case <-redialed:
	case <-time.After(5 * time.Second):
		t.Fatal("poller never redialed after address change")
	}

	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, <-errCh)

	dialMu.Lock()
	defer dialMu.Unlock()

	require.GreaterOrEqual(t, len(dialHosts), 2)
	assert.Equal(t, "10.0.0.5", dialHosts[0])
	assert.Equal(t, "10.0.0.6", dialHosts[1])
}

func TestRequestReconnectMidCycleUsesNewAddress(t *testing.T) {
	mockClient := &MockCommands{}
	clock := newTestClock()
	st := newTestStore(t)
	log := logger.NewTestLogger()

	var (
		stateMu   sync.Mutex
		settings  = twoRepeaterSettings()
		dialHosts []string
		logins    []string
	)

	snapshot := func() models.Settings {
		stateMu.Lock()
		defer stateMu.Unlock()

		return settings
	}

	p := New(st, snapshot, clock, log)

	redialed := make(chan struct{})

	var redialOnce sync.Once

	p.Dial = func(_ context.Context, host string, _ int, _ logger.Logger) (*meshcore.Session, error) {
		stateMu.Lock()
		dialHosts = append(dialHosts, host)
		count := len(dialHosts)
		stateMu.Unlock()

		if count >= 2 {
			redialOnce.Do(func() { close(redialed) })
		}

		return meshcore.NewSession(mockClient, log), nil
	}

	keys, contacts := contactsForBoth()

	mockClient.On("GetContacts", mock.Anything).Return(keys, contacts, nil)
	mockClient.On("ResetPath", mock.Anything, mock.Anything).Return(nil)
	mockClient.On("Close").Return(nil)
	mockClient.On("RequestStatus", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, meshcore.ErrRequestTimeout)
	mockClient.On("RequestTelemetry", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, meshcore.ErrRequestTimeout)

	mockClient.On("SendLogin", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			contact := args.Get(1).(meshcore.Contact)

			stateMu.Lock()
			logins = append(logins, contact.PublicKey)
			first := len(logins) == 1
			if first {
				settings.CompanionHost = "10.0.0.6"
			}
			stateMu.Unlock()

			// Settings changed while device A was being polled; the
			// flag must be observed before device B starts.
			if first {
				p.RequestReconnect()
			}
		}).Return(nil)

	errCh := make(chan error, 1)

	go func() { errCh <- p.Start(context.Background()) }()

	select {
	case <-redialed:
	case <-time.After(5 * time.Second):
		t.Fatal("poller never redialed after reconnect request")
	}

	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, <-errCh)

	stateMu.Lock()
	defer stateMu.Unlock()

	// The redial targeted the new companion address.
	require.GreaterOrEqual(t, len(dialHosts), 2)
	assert.Equal(t, "10.0.0.5", dialHosts[0])
	assert.Equal(t, "10.0.0.6", dialHosts[1])

	// Device A was the only login of the first session; B's turn only
	// comes after the reconnect, which restarts from A.
	require.NotEmpty(t, logins)
	assert.Equal(t, keyA, logins[0])

	if len(logins) > 1 {
		assert.Equal(t, keyA, logins[1])
	}
}

func TestRequestReconnectInterruptsSleep(t *testing.T) {
	st := newTestStore(t)
	p := New(st, twoRepeaterSettings, nil, logger.NewTestLogger())

	p.RequestReconnect()

	start := time.Now()
	p.sleep(context.Background(), 30*time.Second)

	assert.Less(t, time.Since(start), time.Second)
}

func TestStopInterruptsSleepPromptly(t *testing.T) {
	st := newTestStore(t)
	p := New(st, twoRepeaterSettings, nil, logger.NewTestLogger())

	done := make(chan struct{})

	go func() {
		p.sleep(context.Background(), time.Minute)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("sleep did not return after stop")
	}
}

func TestStartTwiceFails(t *testing.T) {
	st := newTestStore(t)
	p := New(st, twoRepeaterSettings, newTestClock(), logger.NewTestLogger())

	p.started.Store(true)

	assert.ErrorIs(t, p.Start(context.Background()), errAlreadyStarted)
}

func TestPollAllIsolatesDeviceFailures(t *testing.T) {
	mockClient := &MockCommands{}
	clock := newTestClock()
	st := newTestStore(t)
	log := logger.NewTestLogger()

	p := New(st, twoRepeaterSettings, clock, log)
	sess := meshcore.NewSession(mockClient, log)

	keys, contacts := contactsForBoth()
	snap := twoRepeaterSettings()

	st.SyncDevices(snap.Repeaters)

	mockClient.On("GetContacts", mock.Anything).Return(keys, contacts, nil)
	mockClient.On("ResetPath", mock.Anything, mock.Anything).Return(nil)
	mockClient.On("SendLogin", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// A is rejected and times out; B answers normally.
	mockClient.On("RequestStatus", mock.Anything,
		mock.MatchedBy(func(c meshcore.Contact) bool { return c.PublicKey == keyA }),
		mock.Anything).Return(nil, &meshcore.ProtocolError{Detail: "not authorized"})
	mockClient.On("RequestTelemetry", mock.Anything,
		mock.MatchedBy(func(c meshcore.Contact) bool { return c.PublicKey == keyA }),
		mock.Anything).Return(nil, meshcore.ErrRequestTimeout)

	mockClient.On("RequestStatus", mock.Anything,
		mock.MatchedBy(func(c meshcore.Contact) bool { return c.PublicKey == keyB }),
		mock.Anything).Return(statusFor(3900, -101), nil)
	mockClient.On("RequestTelemetry", mock.Anything,
		mock.MatchedBy(func(c meshcore.Contact) bool { return c.PublicKey == keyB }),
		mock.Anything).Return([]meshcore.TelemetrySensor{}, nil)

	require.NoError(t, p.pollAll(context.Background(), sess, &snap))

	devices := st.ListAll()
	require.Len(t, devices, 2)

	byKey := make(map[string]models.DeviceState, len(devices))
	for _, d := range devices {
		byKey[d.PubKey] = d
	}

	// A never produced data but kept its route info; B's poll succeeded.
	assert.True(t, byKey[keyA].LastSeen.IsZero())
	assert.Equal(t, "4d", byKey[keyA].RoutePath)
	assert.Equal(t, 3900, byKey[keyB].BatteryMV)
	assert.False(t, byKey[keyB].LastSeen.IsZero())
}

func TestPollAllSkipsUnresolvedContact(t *testing.T) {
	mockClient := &MockCommands{}
	clock := newTestClock()
	st := newTestStore(t)
	log := logger.NewTestLogger()

	p := New(st, twoRepeaterSettings, clock, log)
	sess := meshcore.NewSession(mockClient, log)

	snap := twoRepeaterSettings()
	st.SyncDevices(snap.Repeaters)

	// Only B is in the companion's listing; A is out of range.
	mockClient.On("GetContacts", mock.Anything).Return(
		[]string{keyB}, map[string]meshcore.Contact{keyB: {PublicKey: keyB, Hops: 2}}, nil)
	mockClient.On("ResetPath", mock.Anything, mock.Anything).Return(nil)
	mockClient.On("SendLogin", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockClient.On("RequestStatus", mock.Anything, mock.Anything, mock.Anything).
		Return(statusFor(3900, -101), nil)
	mockClient.On("RequestTelemetry", mock.Anything, mock.Anything, mock.Anything).
		Return([]meshcore.TelemetrySensor{}, nil)

	require.NoError(t, p.pollAll(context.Background(), sess, &snap))

	// Only B was ever logged into.
	mockClient.AssertNumberOfCalls(t, "SendLogin", 1)
}

func TestPollAllPropagatesListingFailure(t *testing.T) {
	mockClient := &MockCommands{}
	st := newTestStore(t)
	log := logger.NewTestLogger()

	p := New(st, twoRepeaterSettings, newTestClock(), log)
	sess := meshcore.NewSession(mockClient, log)
	snap := twoRepeaterSettings()

	mockClient.On("GetContacts", mock.Anything).Return(nil, nil, assert.AnError)

	err := p.pollAll(context.Background(), sess, &snap)
	assert.ErrorIs(t, err, assert.AnError)
}
