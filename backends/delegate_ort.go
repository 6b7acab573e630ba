//go:build cgo && (ORT || ALL)

package backends

import (
	"github.com/phuslu/log"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/knights-analytics/depthrt/options"
)

// Delegate is the TensorRT execution provider attached to an interpreter.
type Delegate struct {
	providerOptions *ort.TensorRTProviderOptions
	cacheDir        string
	modelToken      string
}

// newDelegate returns nil when the delegate is disabled or the runtime was
// built without TensorRT support. Neither case is an error. Without cached
// the compiled engine is not persisted.
func newDelegate(opts *options.Options, cached bool) *Delegate {
	cfg := opts.Delegate
	if cfg == nil || cfg.Disabled {
		return nil
	}
	var cacheDir string
	var cacheOK bool
	if cached {
		cacheDir, cacheOK = PrepareDelegateCache(cfg.CacheDir, cfg.ModelToken)
	}

	providerOptions, err := ort.NewTensorRTProviderOptions()
	if err != nil {
		log.Info().Err(err).Msg("hardware delegate is not available, running on CPU")
		return nil
	}
	var overrides map[string]string
	if opts.ORTOptions != nil {
		overrides = opts.ORTOptions.TensorRTOptions
	}
	if err = providerOptions.Update(delegateSettings(cfg, cacheDir, cacheOK, overrides)); err != nil {
		log.Info().Err(err).Msg("hardware delegate rejected its settings, running on CPU")
		if destroyErr := providerOptions.Destroy(); destroyErr != nil {
			log.Error().Err(destroyErr).Msg("failed to release delegate options")
		}
		return nil
	}
	return &Delegate{
		providerOptions: providerOptions,
		cacheDir:        cacheDir,
		modelToken:      cfg.ModelToken,
	}
}

func (d *Delegate) attach(sessionOptions *ort.SessionOptions) error {
	return sessionOptions.AppendExecutionProviderTensorRT(d.providerOptions)
}

// CacheDir is empty when compiled artifacts are not persisted.
func (d *Delegate) CacheDir() string {
	if d == nil {
		return ""
	}
	return d.cacheDir
}

func (d *Delegate) mode() delegateMode {
	switch {
	case d == nil:
		return delegateNone
	case d.cacheDir != "":
		return delegateCached
	default:
		return delegateUncached
	}
}

func (d *Delegate) Destroy() error {
	if d == nil || d.providerOptions == nil {
		return nil
	}
	err := d.providerOptions.Destroy()
	d.providerOptions = nil
	return err
}
