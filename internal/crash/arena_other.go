//go:build !linux

package crash

// arena is report scratch memory reserved at install time.
type arena struct {
	data []byte
}

func newArena(size int) (*arena, error) {
	return &arena{data: make([]byte, size)}, nil
}

func (a *arena) bytes() []byte { return a.data }

func (a *arena) release() error {
	if a != nil {
		a.data = nil
	}
	return nil
}
