package hook

import (
	"runtime"
	"testing"
)

func TestParseKernelVersion(t *testing.T) {
	tests := []struct {
		in           string
		major, minor int
		wantErr      bool
	}{
		{"6.8.0-45-generic", 6, 8, false},
		{"5.15.153.1-microsoft-standard-WSL2", 5, 15, false},
		{"4.19", 4, 19, false},
		{"unknown", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		major, minor, err := parseKernelVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseKernelVersion(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if major != tt.major || minor != tt.minor {
			t.Errorf("parseKernelVersion(%q) = %d.%d, want %d.%d", tt.in, major, minor, tt.major, tt.minor)
		}
	}
}

func TestDetectPlatform(t *testing.T) {
	p := DetectPlatform()
	if p.OS != runtime.GOOS || p.Arch != runtime.GOARCH {
		t.Errorf("platform = %s/%s, want %s/%s", p.OS, p.Arch, runtime.GOOS, runtime.GOARCH)
	}
	if p.Slots != NativeTableSize {
		t.Errorf("Slots = %d, want %d", p.Slots, NativeTableSize)
	}
	if !p.Native && p.Reason == "" {
		t.Error("non-native platform must carry a reason")
	}
	if p.Native && p.Reason != "" {
		t.Errorf("native platform has reason %q", p.Reason)
	}
}
