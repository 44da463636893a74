package platform

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

type Runtime struct {
	OS   string
	Arch string
}

func CurrentRuntime() Runtime {
	return Runtime{
		OS:   runtime.GOOS,
		Arch: NormalizeArch(runtime.GOARCH),
	}
}

func NormalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}

type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceGPU  Device = "gpu"
)

// Probe abstracts the host lookups used for accelerator detection.
type Probe struct {
	Runtime  Runtime
	Stat     func(path string) (os.FileInfo, error)
	LookPath func(file string) (string, error)
}

func HostProbe() Probe {
	return Probe{Runtime: CurrentRuntime(), Stat: os.Stat, LookPath: exec.LookPath}
}

// ResolveDevice turns the configured device into cpu or gpu. It is called
// once at startup.
func ResolveDevice(requested string, probe Probe) (Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(requested))) {
	case "", DeviceAuto:
		if HasAccelerator(probe) {
			return DeviceGPU, nil
		}
		return DeviceCPU, nil
	case DeviceCPU:
		return DeviceCPU, nil
	case DeviceGPU, "cuda":
		return DeviceGPU, nil
	default:
		return "", fmt.Errorf("unknown device %q (expected auto, cpu or gpu)", requested)
	}
}

// HasAccelerator reports whether whisper.cpp can be expected to find a GPU:
// Metal on Apple Silicon, or an NVIDIA/AMD device on Linux.
func HasAccelerator(probe Probe) bool {
	switch probe.Runtime.OS {
	case "darwin":
		return probe.Runtime.Arch == "arm64"
	case "linux":
		if probe.Stat != nil {
			for _, node := range []string{"/dev/nvidia0", "/dev/kfd"} {
				if _, err := probe.Stat(node); err == nil {
					return true
				}
			}
		}
		if probe.LookPath != nil {
			if _, err := probe.LookPath("nvidia-smi"); err == nil {
				return true
			}
		}
	}
	return false
}

func DefaultModelDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	dataDir, err := defaultDataDirFor(goos, homeDir, xdgDataHome)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "models"), nil
}

func ResolveModelDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultModelDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"))
}

// EnsureModelDir resolves the model directory and creates it.
func EnsureModelDir(override string) (string, error) {
	dir, err := ResolveModelDir(override)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func defaultDataDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if xdgDataHome != "" {
			return filepath.Join(xdgDataHome, "whisperd"), nil
		}
		return filepath.Join(homeDir, ".local", "share", "whisperd"), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "whisperd"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}
