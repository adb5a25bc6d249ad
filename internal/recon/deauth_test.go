package recon

import (
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

func TestDeauthOrchestrator_BroadcastBurst(t *testing.T) {
	o := NewDeauthOrchestrator(3, 50*time.Millisecond)

	gen, ok := o.Arm(DeauthTarget{BSSID: apMAC})
	require.True(t, ok)
	assert.True(t, o.Active())

	for step := 1; step <= 3; step++ {
		frames, more, err := o.Step(gen)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.Equal(t, step < 3, more)

		f, err := dot11.Parse(frames[0], layers.LinkTypeIEEE80211Radio)
		require.NoError(t, err)
		assert.Equal(t, dot11.FrameDeauthentication, f.Type)
		assert.Equal(t, dot11.BroadcastMAC, f.Addr1)
		assert.Equal(t, apMAC, f.Addr2)
		assert.Equal(t, apMAC, f.Addr3)
		assert.Equal(t, dot11.ReasonClass3FromNonAssoc, f.Reason)
	}

	assert.False(t, o.Active())
	frames, more, err := o.Step(gen)
	assert.NoError(t, err)
	assert.Nil(t, frames)
	assert.False(t, more)
}

func TestDeauthOrchestrator_ClientBurstIsBidirectional(t *testing.T) {
	o := NewDeauthOrchestrator(1, time.Second)

	client := clientMAC
	gen, _ := o.Arm(DeauthTarget{BSSID: apMAC, Client: &client})
	frames, more, err := o.Step(gen)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, frames, 2)

	toClient, err := dot11.Parse(frames[0], layers.LinkTypeIEEE80211Radio)
	require.NoError(t, err)
	assert.Equal(t, clientMAC, toClient.Addr1)
	assert.Equal(t, apMAC, toClient.Addr2)

	toAP, err := dot11.Parse(frames[1], layers.LinkTypeIEEE80211Radio)
	require.NoError(t, err)
	assert.Equal(t, apMAC, toAP.Addr1)
	assert.Equal(t, clientMAC, toAP.Addr2)
	assert.Equal(t, apMAC, toAP.Addr3)
}

func TestDeauthOrchestrator_CancelAndRearm(t *testing.T) {
	o := NewDeauthOrchestrator(5, time.Second)

	first, _ := o.Arm(DeauthTarget{BSSID: apMAC})
	_, _, _ = o.Step(first)

	second, ok := o.Arm(DeauthTarget{BSSID: apMAC2})
	require.True(t, ok)
	assert.NotEqual(t, first, second)

	frames, _, _ := o.Step(first)
	assert.Nil(t, frames, "steps of a replaced burst are stale")

	cur, ok := o.Current()
	require.True(t, ok)
	assert.Equal(t, second, cur)

	o.Cancel()
	assert.False(t, o.Active())
	frames, _, _ = o.Step(second)
	assert.Nil(t, frames)
}

func TestDeauthOrchestrator_Disabled(t *testing.T) {
	o := NewDeauthOrchestrator(0, time.Second)
	_, ok := o.Arm(DeauthTarget{BSSID: apMAC})
	assert.False(t, ok)
	assert.False(t, o.Active())
}
