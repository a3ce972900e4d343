//go:build !linux

package cgipool

// schedulableCPUs has no cgroup-aware implementation outside Linux; it
// always returns fallback (runtime.NumCPU()).
func schedulableCPUs(fallback int) int {
	return fallback
}
