//go:build !linux

package shm

func (m *Memory) Attach() error {
	return errUnsupported
}

func (m *Memory) Detach() error {
	return nil
}
