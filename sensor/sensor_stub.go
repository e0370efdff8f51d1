//go:build !linux

package sensor

func newCdev(cfg Config) (Sensor, error) { return nil, ErrNotSupported }
func newMem(cfg Config) (Sensor, error)  { return nil, ErrNotSupported }
