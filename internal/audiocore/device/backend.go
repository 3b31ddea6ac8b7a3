// Package device provides malgo-backed mixer.Device collaborators: a
// capture device for Source and a playback device for Sink, bridging
// malgo's callback-driven duplex model into the mixer's pull-based
// RequestFrames/Submit contract.
package device

import (
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/errors"
)

// Info describes one enumerated hardware device.
type Info struct {
	Index int
	Name  string
	ID    string
}

func backendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.New(nil).
			Component(audiocoreerr.Component).
			Category(errors.CategoryAudio).
			Context("operation", "select_backend").
			Context("os", runtime.GOOS).
			Build()
	}
}

// enumerate lists devices of kind (malgo.Capture or malgo.Playback) using a
// throwaway malgo context, torn down before returning.
func enumerate(kind malgo.DeviceType) ([]Info, error) {
	backend, err := backendForPlatform()
	if err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component(audiocoreerr.Component).
			Category(errors.CategoryAudio).
			Context("operation", "init_context").
			Build()
	}
	defer func() { _ = ctx.Uninit() }()

	infos, err := ctx.Devices(kind)
	if err != nil {
		return nil, errors.New(err).
			Component(audiocoreerr.Component).
			Category(errors.CategoryAudio).
			Context("operation", "enumerate_devices").
			Build()
	}

	out := make([]Info, 0, len(infos))
	for i := range infos {
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}
		id, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			id = infos[i].ID.String()
		}
		out = append(out, Info{Index: i, Name: infos[i].Name(), ID: id})
	}
	return out, nil
}

// EnumerateCaptureDevices lists available capture (input) devices.
func EnumerateCaptureDevices() ([]Info, error) { return enumerate(malgo.Capture) }

// EnumeratePlaybackDevices lists available playback (output) devices.
func EnumeratePlaybackDevices() ([]Info, error) { return enumerate(malgo.Playback) }

// selectDevice picks the malgo.DeviceInfo matching name among infos, falling
// back to the system default and then the first device.
func selectDevice(infos []malgo.DeviceInfo, name string) (*malgo.DeviceInfo, error) {
	if name == "" || name == "default" || name == "sysdefault" {
		for i := range infos {
			if infos[i].IsDefault == 1 {
				return &infos[i], nil
			}
		}
		if len(infos) > 0 {
			return &infos[0], nil
		}
	}

	for i := range infos {
		if infos[i].Name() == name {
			return &infos[i], nil
		}
	}
	for i := range infos {
		if decoded, err := hexToASCII(infos[i].ID.String()); err == nil && decoded == name {
			return &infos[i], nil
		}
	}
	for i := range infos {
		if strings.Contains(infos[i].Name(), name) {
			return &infos[i], nil
		}
	}

	return nil, errors.Newf("no matching audio device for %q", name).
		Component(audiocoreerr.Component).
		Category(errors.CategoryValidation).
		Context("device_name", name).
		Context("available_devices", len(infos)).
		Build()
}

func hexToASCII(s string) (string, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
