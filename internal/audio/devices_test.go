package audio

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevices swaps the PortAudio device table for the duration of a test.
func fakeDevices(t *testing.T, infos []*portaudio.DeviceInfo, def *portaudio.DeviceInfo) {
	t.Helper()
	origDevices, origDefault := paLibDevicesFunc, paLibDefaultInputDeviceFunc
	t.Cleanup(func() {
		paLibDevicesFunc = origDevices
		paLibDefaultInputDeviceFunc = origDefault
	})
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) { return infos, nil }
	paLibDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) {
		if def == nil {
			return nil, errors.New("no default input device")
		}
		return def, nil
	}
}

func testDeviceTable() []*portaudio.DeviceInfo {
	return []*portaudio.DeviceInfo{
		{Name: "Built-in Microphone", MaxInputChannels: 2, DefaultSampleRate: 48000,
			DefaultLowInputLatency: 3 * time.Millisecond, DefaultHighInputLatency: 12 * time.Millisecond},
		{Name: "Built-in Output", MaxOutputChannels: 2, DefaultSampleRate: 44100},
		{Name: "Interface", MaxInputChannels: 8, MaxOutputChannels: 8, DefaultSampleRate: 96000},
	}
}

// setupPortAudio initializes the real library, skipping on hosts without it.
func setupPortAudio(t *testing.T) {
	t.Helper()
	if err := Initialize(); err != nil {
		t.Skipf("PortAudio unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := Terminate(); err != nil {
			t.Errorf("Failed to terminate PortAudio: %v", err)
		}
	})
}

func TestHostDevices(t *testing.T) {
	fakeDevices(t, testDeviceTable(), nil)

	devices, err := HostDevices()
	require.NoError(t, err)
	require.Len(t, devices, 3)

	for i, d := range devices {
		assert.Equal(t, i, d.ID)
		assert.NotEmpty(t, d.Name)
	}
	assert.Equal(t, "Input", devices[0].Kind())
	assert.Equal(t, "Output", devices[1].Kind())
	assert.Equal(t, "Input/Output", devices[2].Kind())
	assert.Equal(t, 12*time.Millisecond, devices[0].HighInputLatency)
}

func TestHostDevices_System(t *testing.T) {
	setupPortAudio(t)

	devices, err := HostDevices()
	require.NoError(t, err)
	if len(devices) == 0 {
		t.Skip("No audio devices found on system")
	}
	for i, d := range devices {
		assert.Equal(t, i, d.ID)
		assert.Positive(t, d.DefaultSampleRate, "device %d sample rate", i)
	}
}

func TestHostDevices_paDevicesError(t *testing.T) {
	orig := paDevicesFunc
	t.Cleanup(func() { paDevicesFunc = orig })
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("mock error")
	}

	_, err := HostDevices()
	require.ErrorContains(t, err, "mock error")
}

func TestInputDevice(t *testing.T) {
	table := testDeviceTable()
	fakeDevices(t, table, table[0])

	dev, err := InputDevice(-1)
	require.NoError(t, err)
	assert.Equal(t, "Built-in Microphone", dev.Name)

	dev, err = InputDevice(2)
	require.NoError(t, err)
	assert.Equal(t, "Interface", dev.Name)

	tests := []struct {
		name   string
		id     int
		substr string
	}{
		{"Negative ID", -2, "invalid device ID"},
		{"Too high ID", len(table) + 10, "invalid device ID"},
		{"Non-input device", 1, "does not support input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InputDevice(tt.id)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.substr), "error %q, want substring %q", err, tt.substr)
		})
	}
}

func TestInputDevice_paDefaultInputDeviceError(t *testing.T) {
	fakeDevices(t, testDeviceTable(), nil)

	_, err := InputDevice(-1)
	require.ErrorContains(t, err, "no default input device")
}

func TestOpenDevice_Unavailable(t *testing.T) {
	fakeDevices(t, testDeviceTable(), nil)

	_, err := OpenDevice(DeviceConfig{DeviceID: 1, Channels: 1, FramesPerBuffer: 256})
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorContains(t, err, "does not support input")
}

func TestListDevices(t *testing.T) {
	fakeDevices(t, testDeviceTable(), nil)

	var buf bytes.Buffer
	require.NoError(t, ListDevices(&buf))

	out := buf.String()
	assert.Contains(t, out, "[0] Built-in Microphone (Input)")
	assert.Contains(t, out, "[2] Interface (Input/Output)")
	assert.Contains(t, out, "Default sample rate: 96000 Hz")
	assert.Contains(t, out, "Latency: Low=3.00ms, High=12.00ms")
}

func TestErrorInitialize(t *testing.T) {
	orig := paLibInitialize
	t.Cleanup(func() { paLibInitialize = orig })

	paLibInitialize = func() error { return nil }
	assert.NoError(t, Initialize())

	paLibInitialize = func() error { return fmt.Errorf("mock init error") }
	assert.ErrorContains(t, Initialize(), "mock init error")
}

func TestErrorTerminate(t *testing.T) {
	orig := paLibTerminate
	t.Cleanup(func() { paLibTerminate = orig })

	paLibTerminate = func() error { return nil }
	assert.NoError(t, Terminate())

	paLibTerminate = func() error { return fmt.Errorf("mock term error") }
	assert.ErrorContains(t, Terminate(), "mock term error")
}

func TestNilDevices(t *testing.T) {
	fakeDevices(t, nil, nil)

	devices, err := paDevices()
	require.NoError(t, err)
	assert.NotNil(t, devices)
	assert.Empty(t, devices)
}

func TestPortAudioNotInitialized(t *testing.T) {
	orig := paLibDevicesFunc
	t.Cleanup(func() { paLibDevicesFunc = orig })
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	devices, err := paDevices()
	require.ErrorContains(t, err, "PortAudio not initialized")
	assert.Nil(t, devices)
}
