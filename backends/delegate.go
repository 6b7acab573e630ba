package backends

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"

	"github.com/knights-analytics/depthrt/options"
	"github.com/knights-analytics/depthrt/util/fileutil"
)

// PrepareDelegateCache makes cacheDir usable as the delegate's compilation
// cache for modelToken. It creates the directory, checks that it is writable
// and removes empty artifacts left by an interrupted compilation. A cache that
// cannot be prepared is reported with ok false: the delegate then compiles
// from scratch, it never fails construction.
func PrepareDelegateCache(cacheDir string, modelToken string) (string, bool) {
	if cacheDir == "" || modelToken == "" {
		return "", false
	}
	exists, err := fileutil.FileExists(cacheDir)
	if err != nil {
		log.Info().Err(err).Str("dir", cacheDir).Msg("delegate cache unavailable")
		return "", false
	}
	if !exists {
		if err = fileutil.CreateFile(cacheDir, true); err != nil {
			log.Info().Err(err).Str("dir", cacheDir).Msg("cannot create delegate cache")
			return "", false
		}
	}

	canary := fileutil.PathJoinSafe(cacheDir, "."+modelToken+".canary")
	if err = fileutil.WriteFileBytes(canary, []byte(modelToken)); err != nil {
		log.Info().Err(err).Str("dir", cacheDir).Msg("delegate cache is not writable")
		return "", false
	}
	if err = fileutil.DeleteFile(canary); err != nil {
		log.Info().Err(err).Str("file", canary).Msg("cannot remove delegate cache canary")
	}

	removed, err := removeCorruptArtifacts(cacheDir, modelToken)
	if err != nil {
		log.Info().Err(err).Str("dir", cacheDir).Msg("cannot clean delegate cache")
		return "", false
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Str("token", modelToken).Msg("removed empty delegate cache artifacts")
	}
	return cacheDir, true
}

func removeCorruptArtifacts(cacheDir string, modelToken string) (int, error) {
	return deleteArtifacts(cacheDir, modelToken, func(info os.FileInfo) bool {
		return info.Size() == 0
	})
}

// purgeDelegateArtifacts removes every cached artifact of modelToken.
func purgeDelegateArtifacts(cacheDir string, modelToken string) (int, error) {
	if cacheDir == "" || modelToken == "" {
		return 0, nil
	}
	return deleteArtifacts(cacheDir, modelToken, func(os.FileInfo) bool {
		return true
	})
}

func deleteArtifacts(cacheDir string, modelToken string, match func(info os.FileInfo) bool) (int, error) {
	var artifacts []string
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if !info.IsDir() && strings.HasPrefix(info.Name(), modelToken) && match(info) {
			artifacts = append(artifacts, fileutil.PathJoinSafe(cacheDir, parent, info.Name()))
		}
		return true, nil
	}
	if err := fileutil.WalkDir()(context.Background(), cacheDir, walker); err != nil {
		return 0, err
	}
	var err error
	for _, path := range artifacts {
		err = errors.Join(err, fileutil.DeleteFile(path))
	}
	return len(artifacts), err
}

// delegateMode is how a session is asked to use the hardware delegate.
type delegateMode int

const (
	delegateNone delegateMode = iota
	delegateUncached
	delegateCached
)

func (m delegateMode) String() string {
	switch m {
	case delegateCached:
		return "cached delegate"
	case delegateUncached:
		return "uncached delegate"
	default:
		return "cpu"
	}
}

// withDelegateFallback creates a session in mode start. When a delegate
// session with a persisted cache fails, the model's artifacts are purged and
// one uncached attempt is made. A delegate failure after that ends on the CPU.
func withDelegateFallback[S any](cacheDir, modelToken string, start delegateMode, create func(mode delegateMode) (S, error)) (S, error) {
	session, err := create(start)
	if err == nil || start == delegateNone {
		return session, err
	}
	if start == delegateCached {
		log.Info().Err(err).Str("token", modelToken).Msg("delegate session failed with cached artifacts, retrying without the cache")
		removed, purgeErr := purgeDelegateArtifacts(cacheDir, modelToken)
		if purgeErr != nil {
			log.Error().Err(purgeErr).Str("dir", cacheDir).Msg("failed to purge delegate cache")
		} else {
			log.Info().Int("removed", removed).Str("token", modelToken).Msg("purged delegate cache artifacts")
		}
		if session, err = create(delegateUncached); err == nil {
			return session, nil
		}
	}
	log.Info().Err(err).Msg("session creation with the hardware delegate failed, building a CPU session")
	return create(delegateNone)
}

// delegateSettings translates delegate options into TensorRT execution
// provider settings. Caller supplied overrides win.
func delegateSettings(cfg *options.DelegateOptions, cacheDir string, cacheOK bool, overrides map[string]string) map[string]string {
	settings := map[string]string{
		"trt_fp16_enable":       boolSetting(cfg.AllowPrecisionLoss),
		"trt_cuda_graph_enable": boolSetting(cfg.Preference == options.PreferenceFastSingleAnswer),
	}
	if cfg.Preference == options.PreferenceSustainedSpeed {
		settings["trt_builder_optimization_level"] = "5"
	}
	if cacheOK {
		settings["trt_engine_cache_enable"] = "1"
		settings["trt_engine_cache_path"] = cacheDir
		settings["trt_engine_cache_prefix"] = cfg.ModelToken
		settings["trt_timing_cache_enable"] = "1"
		settings["trt_timing_cache_path"] = cacheDir
	}
	for k, v := range overrides {
		settings[k] = v
	}
	return settings
}

func boolSetting(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
