package hook

import (
	"fmt"
	"runtime"
)

// Platform describes how much of the native syscall table this build can
// serve on the running kernel.
type Platform struct {
	Native        bool
	OS            string
	Arch          string
	KernelVersion string
	Slots         int
	Reason        string // non-empty when Native is false
}

// DetectPlatform inspects the running system.
func DetectPlatform() Platform {
	p := Platform{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		KernelVersion: kernelVersion(),
		Slots:         NativeTableSize,
	}
	switch {
	case NativeTableSize == 0:
		p.Reason = fmt.Sprintf("no native syscall table for %s/%s", p.OS, p.Arch)
	default:
		if _, _, err := parseKernelVersion(p.KernelVersion); err != nil {
			p.Reason = fmt.Sprintf("cannot parse kernel version %q: %v", p.KernelVersion, err)
			break
		}
		p.Native = true
	}
	return p
}

// parseKernelVersion extracts major.minor from a kernel version string.
func parseKernelVersion(version string) (major, minor int, err error) {
	n, err := fmt.Sscanf(version, "%d.%d", &major, &minor)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("expected major.minor format, got %q", version)
	}
	return major, minor, nil
}
