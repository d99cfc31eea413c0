package main

import (
	"runtime"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// collectCapabilities gathers host facts for the connect announce.
// Collection failures leave the corresponding key out rather than
// blocking startup.
func collectCapabilities() map[string]string {
	caps := map[string]string{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	}

	if info, err := host.Info(); err == nil {
		caps["hostname"] = info.Hostname
		caps["platform"] = info.Platform
		caps["platform_version"] = info.PlatformVersion
	}
	if count, err := cpu.Counts(true); err == nil {
		caps["cpu_count"] = strconv.Itoa(count)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		caps["memory_total"] = strconv.FormatUint(vm.Total, 10)
	}
	return caps
}
