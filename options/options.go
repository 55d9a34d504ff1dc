package options

import (
	"fmt"
	"os"
	"strings"
)

// Device selects where GoMLX runs the model.
type Device string

const (
	// DeviceAuto uses $GOMLX_BACKEND when set and the pure Go backend otherwise.
	DeviceAuto Device = "auto"
	// DeviceCPU is the pure Go backend, always available.
	DeviceCPU Device = "cpu"
	// DeviceXLACPU requires building with -tags XLA.
	DeviceXLACPU Device = "xla-cpu"
	// DeviceCUDA requires building with -tags XLA and a CUDA PJRT plugin.
	DeviceCUDA Device = "cuda"
)

const (
	TokenizerGo   = "GO"
	TokenizerRust = "RUST"
)

type Options struct {
	Device    Device
	Tokenizer string
}

func Defaults() *Options {
	return &Options{
		Device:    DeviceAuto,
		Tokenizer: TokenizerGo,
	}
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// Apply builds Options from the defaults and the given option functions.
func Apply(opts ...WithOption) (*Options, error) {
	o := Defaults()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithDevice fixes the compute device. The choice is made once, when the model is built.
func WithDevice(device Device) WithOption {
	return func(o *Options) error {
		if _, err := ParseDevice(string(device)); err != nil {
			return err
		}
		o.Device = device
		return nil
	}
}

// WithRustTokenizer uses the daulet/tokenizers bindings instead of the pure Go tokenizer.
// The binary must be built with -tags RUST (or ALL) and linked against libtokenizers.
func WithRustTokenizer() WithOption {
	return func(o *Options) error {
		o.Tokenizer = TokenizerRust
		return nil
	}
}

func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DeviceAuto, nil
	case DeviceAuto, DeviceCPU, DeviceXLACPU, DeviceCUDA:
		return d, nil
	default:
		return "", fmt.Errorf("device %q not supported, use one of auto, cpu, xla-cpu, cuda", s)
	}
}

// BackendConfig returns the GoMLX backend configuration string for the device.
func (o *Options) BackendConfig() string {
	switch o.Device {
	case DeviceCPU:
		return "go"
	case DeviceXLACPU:
		return "xla:cpu"
	case DeviceCUDA:
		return "xla:cuda"
	default:
		if env := os.Getenv("GOMLX_BACKEND"); env != "" {
			return env
		}
		return "go"
	}
}
