package artifact

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/logging"
)

var log = logging.L("artifact")

const contentTypePNG = "image/png"

// Sink stores exported files.
type Sink interface {
	Name() string
	// Put stores data under key and returns where it ended up.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Artifact describes one exported image.
type Artifact struct {
	Key      string `yaml:"key" json:"key"`
	Location string `yaml:"location" json:"location"`
	Sink     string `yaml:"sink" json:"sink"`
	Width    int    `yaml:"width" json:"width"`
	Height   int    `yaml:"height" json:"height"`
	Bytes    int    `yaml:"bytes" json:"bytes"`
	PHash    string `yaml:"phash,omitempty" json:"phash,omitempty"`
}

// Exporter writes textures as <prefix>/<name>.png to a sink.
type Exporter struct {
	sink   Sink
	prefix string
}

func NewExporter(sink Sink, prefix string) *Exporter {
	return &Exporter{sink: sink, prefix: prefix}
}

// Key returns the object key used for name.
func (e *Exporter) Key(name string) string {
	return path.Join(e.prefix, name+".png")
}

// Export encodes tex and stores it. The texture is only read.
func (e *Exporter) Export(ctx context.Context, name string, tex gpu.Texture) (*Artifact, error) {
	start := time.Now()
	img, err := Image(tex)
	if err != nil {
		return nil, fmt.Errorf("read texture: %w", err)
	}
	data, err := EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	a := &Artifact{
		Key:    e.Key(name),
		Sink:   e.sink.Name(),
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
		Bytes:  len(data),
	}
	if h, err := PerceptualHash(img); err != nil {
		log.Warn("perceptual hash failed", "name", name, logging.KeyError, err)
	} else {
		a.PHash = h
	}

	a.Location, err = e.sink.Put(ctx, a.Key, data, contentTypePNG)
	if err != nil {
		return nil, fmt.Errorf("%s sink: %w", e.sink.Name(), err)
	}
	log.Info("artifact exported",
		"name", name, "location", a.Location,
		logging.KeyDurationMs, time.Since(start).Milliseconds())
	return a, nil
}
