//go:build !linux

package predem

func loadPerCPU() float64 { return -1 }
