package confloader

import "errors"

// errReadBytes is returned when koanf asks the map provider for raw bytes.
var errReadBytes = errors.New("confloader: map provider has no byte form")

// mapProvider is a koanf provider backed by an in-memory map. koanf
// accepts providers exposing either ReadBytes or Read; maps only support
// the latter.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytes
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
