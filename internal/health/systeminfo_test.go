// SPDX-License-Identifier: MIT

package health

import "testing"

func TestDiskNTPProvider_SystemInfo(t *testing.T) {
	p := DiskNTPProvider{Path: "/", LowThresholdBytes: 0}
	info := p.SystemInfo()

	if info.DiskTotalBytes == 0 {
		t.Error("DiskTotalBytes = 0, want nonzero for a real filesystem")
	}
	if info.DiskFreeBytes > info.DiskTotalBytes {
		t.Errorf("DiskFreeBytes (%d) > DiskTotalBytes (%d)", info.DiskFreeBytes, info.DiskTotalBytes)
	}
}

func TestDiskNTPProvider_LowThreshold(t *testing.T) {
	p := DiskNTPProvider{Path: "/", LowThresholdBytes: 1 << 62} // absurdly high, always triggers
	info := p.SystemInfo()

	if !info.DiskLowWarning {
		t.Error("DiskLowWarning = false, want true when threshold exceeds all available space")
	}
}

func TestDiskNTPProvider_BadPath(t *testing.T) {
	p := DiskNTPProvider{Path: "/this/path/does/not/exist/at/all"}
	info := p.SystemInfo()

	if info.DiskTotalBytes != 0 || info.DiskFreeBytes != 0 {
		t.Error("Statfs on a missing path should leave disk fields zero, not guess")
	}
}
