//go:build linux

package cgipool

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// init wires applyCredential to drop privileges to GRUXI_CGI_UID/GID when
// set, mirroring rehmatworks-fastcp's php-manager.go spawning workers under
// a dedicated reduced-privilege system user rather than as root.
func init() {
	uid, uidOK := envUint32("GRUXI_CGI_UID")
	gid, gidOK := envUint32("GRUXI_CGI_GID")
	if !uidOK || !gidOK {
		return
	}
	applyCredential = func(cmd *exec.Cmd) {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Setpgid:    true,
			Credential: &syscall.Credential{Uid: uid, Gid: gid},
		}
	}
}

func envUint32(key string) (uint32, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// schedulableCPUs returns the number of CPUs this process' scheduler
// affinity mask allows it to use, falling back to runtime.NumCPU's value
// when the syscall is unavailable. This is a cgroup/container-aware
// alternative to runtime.NumCPU for deriving concurrent_threads=0, since a
// containerized deployment's NumCPU can overreport usable cores.
func schedulableCPUs(fallback int) int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return fallback
	}
	n := set.Count()
	if n == 0 {
		return fallback
	}
	return n
}
