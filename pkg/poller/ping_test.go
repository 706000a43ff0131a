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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/meshwatch/pkg/logger"
	"github.com/carverauto/meshwatch/pkg/meshcore"
)

func newPingFixture(t *testing.T) (*Poller, *MockCommands) {
	t.Helper()

	mockClient := &MockCommands{}
	log := logger.NewTestLogger()

	p := New(newTestStore(t), twoRepeaterSettings, newTestClock(), log)
	p.setSession(meshcore.NewSession(mockClient, log))

	return p, mockClient
}

func TestPingDeviceNotConnected(t *testing.T) {
	p := New(newTestStore(t), twoRepeaterSettings, newTestClock(), logger.NewTestLogger())

	result := p.PingDevice(context.Background(), keyA)

	assert.False(t, result.OK)
	assert.Equal(t, errNotConnected.Error(), result.Error)
}

func TestPingDeviceSuccess(t *testing.T) {
	p, mockClient := newPingFixture(t)

	keys, contacts := contactsForBoth()

	mockClient.On("GetContacts", mock.Anything).Return(keys, contacts, nil)

	// B is configured with its own admin password; the ping uses it.
	mockClient.On("SendLogin", mock.Anything,
		mock.MatchedBy(func(c meshcore.Contact) bool { return c.PublicKey == keyB }),
		"hunter2").Return(nil)
	mockClient.On("RequestStatus", mock.Anything, mock.Anything, mock.Anything).
		Return(statusFor(4100, -97), nil)
	mockClient.On("RequestTelemetry", mock.Anything, mock.Anything, mock.Anything).
		Return([]meshcore.TelemetrySensor{}, nil)

	result := p.PingDevice(context.Background(), keyB)

	require.True(t, result.OK, result.Error)
	assert.Positive(t, result.LatencyMS)
	assert.Empty(t, result.Error)
}

func TestPingDeviceRetriesListingOnce(t *testing.T) {
	p, mockClient := newPingFixture(t)

	keys, contacts := contactsForBoth()

	// First listing is empty; the retry finds the contact.
	mockClient.On("GetContacts", mock.Anything).
		Return([]string{}, map[string]meshcore.Contact{}, nil).Once()
	mockClient.On("GetContacts", mock.Anything).Return(keys, contacts, nil).Once()
	mockClient.On("SendLogin", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockClient.On("RequestStatus", mock.Anything, mock.Anything, mock.Anything).
		Return(statusFor(4100, -97), nil)
	mockClient.On("RequestTelemetry", mock.Anything, mock.Anything, mock.Anything).
		Return([]meshcore.TelemetrySensor{}, nil)

	// Seed the directory with the empty listing first.
	require.NoError(t, p.directory.Refresh(context.Background(), p.getSession()))

	result := p.PingDevice(context.Background(), keyA)

	assert.True(t, result.OK, result.Error)
	mockClient.AssertExpectations(t)
}

func TestPingDeviceUnknownContact(t *testing.T) {
	p, mockClient := newPingFixture(t)

	mockClient.On("GetContacts", mock.Anything).
		Return([]string{}, map[string]meshcore.Contact{}, nil)

	result := p.PingDevice(context.Background(), "ffff000011112222")

	assert.False(t, result.OK)
	assert.Equal(t, errContactNotFound.Error(), result.Error)
}

func TestPingDeviceStatusFailureReported(t *testing.T) {
	p, mockClient := newPingFixture(t)

	keys, contacts := contactsForBoth()

	mockClient.On("GetContacts", mock.Anything).Return(keys, contacts, nil)
	mockClient.On("SendLogin", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockClient.On("RequestStatus", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	result := p.PingDevice(context.Background(), keyA)

	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Error)
}
