package gpu

import "errors"

// ErrNoOutputs is returned when no display output is attached.
var ErrNoOutputs = errors.New("gpu: no outputs found")

// Output describes a display output of an adapter.
type Output struct {
	Index     int    `json:"index" yaml:"index"`
	Name      string `json:"name" yaml:"name"`
	X         int32  `json:"x" yaml:"x"`
	Y         int32  `json:"y" yaml:"y"`
	Width     int32  `json:"width" yaml:"width"`
	Height    int32  `json:"height" yaml:"height"`
	IsPrimary bool   `json:"isPrimary" yaml:"isPrimary"`
}

// SoftwareOutput is the virtual display used by the software backend.
var SoftwareOutput = Output{
	Index:     0,
	Name:      "software0",
	Width:     1920,
	Height:    1080,
	IsPrimary: true,
}
