// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DiskNTPProvider implements SystemInfoProvider by statting a data
// directory's filesystem and shelling out to timedatectl, the same two
// checks internal/diagnostics' checkDiskSpace/checkTimeSynchronization
// perform for the one-shot CLI diagnose command. The daemon's health
// endpoint needs the same two facts on every /healthz poll, so they are
// adapted here rather than invoking the full diagnostics.Runner per
// request.
type DiskNTPProvider struct {
	// Path is statted for free/total bytes; typically the configured
	// recordings data directory.
	Path string
	// LowThresholdBytes sets DiskLowWarning when free space falls below it.
	LowThresholdBytes uint64
}

// SystemInfo implements SystemInfoProvider.
func (p DiskNTPProvider) SystemInfo() SystemInfo {
	info := SystemInfo{}

	var stat syscall.Statfs_t
	path := p.Path
	if path == "" {
		path = "/"
	}
	if err := syscall.Statfs(path, &stat); err == nil {
		// #nosec G115 -- Bsize is always positive on Linux filesystems
		info.DiskFreeBytes = stat.Bavail * uint64(stat.Bsize)
		// #nosec G115 -- Bsize is always positive on Linux filesystems
		info.DiskTotalBytes = stat.Blocks * uint64(stat.Bsize)
		if p.LowThresholdBytes > 0 && info.DiskFreeBytes < p.LowThresholdBytes {
			info.DiskLowWarning = true
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "timedatectl", "status").Output()
	switch {
	case err != nil:
		// timedatectl not available: treat as synced rather than flagging
		// every non-systemd host, matching the CLI diagnose check's own
		// "skip, don't warn" stance.
		info.NTPSynced = true
		info.NTPMessage = "timedatectl not available, assuming synced"
	case strings.Contains(string(out), "synchronized: yes"):
		info.NTPSynced = true
	default:
		info.NTPSynced = false
		info.NTPMessage = "system time may not be synchronized"
	}

	return info
}
