//go:build !linux

package idle

func platformProbe(cfg ProbeConfig) (Probe, error) {
	_ = cfg
	return nil, errNoPlatformProbe
}
