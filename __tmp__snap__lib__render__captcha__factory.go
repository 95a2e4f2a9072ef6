package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/uvensys/gatekeeper/lib/render"
)

var ErrCantWriteToDir = errors.New("captcha: can't write to artifact directory")

var _ render.Renderer = &Impl{}

func init() {
	render.Register("captcha", Factory{})
}

// Factory builds the PNG captcha renderer from configuration passed via a
// json.RawMessage.
type Factory struct{}

func (Factory) Build(ctx context.Context, data json.RawMessage) (render.Renderer, error) {
	config, err := parse(data)
	if err != nil {
		return nil, err
	}

	return &Impl{
		dir:    config.Dir,
		width:  config.Width,
		height: config.Height,
		noise:  config.Noise,
	}, nil
}

func (Factory) Valid(data json.RawMessage) error {
	_, err := parse(data)
	return err
}

func parse(data json.RawMessage) (Config, error) {
	config := Config{
		Dir:    os.TempDir(),
		Width:  250,
		Height: 120,
		Noise:  30,
	}

	if len(data) != 0 {
		if err := json.Unmarshal([]byte(data), &config); err != nil {
			return Config{}, fmt.Errorf("%w: %w", render.ErrBadConfig, err)
		}
	}

	if err := config.Valid(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", render.ErrBadConfig, err)
	}

	return config, nil
}

// Config is the captcha renderer configuration. The zero value of any field
// falls back to the defaults matching the original verification panel: a
// 250x120 image with 30 noise dots in the system temp directory.
type Config struct {
	Dir    string `json:"dir"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Noise  int    `json:"noise"`
}

func (c Config) Valid() error {
	var errs []error

	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("captcha: image dimensions %dx%d are invalid", c.Width, c.Height))
	}

	if c.Noise < 0 {
		errs = append(errs, fmt.Errorf("captcha: noise %d is invalid", c.Noise))
	}

	if c.Dir != "" {
		probe := filepath.Join(c.Dir, ".test-file")
		if err := os.WriteFile(probe, []byte(""), 0600); err != nil {
			errs = append(errs, ErrCantWriteToDir)
		}
		os.Remove(probe)
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}


