//go:build !cgo || (!ORT && !ALL)

package depthrt

import (
	"github.com/phuslu/log"

	"github.com/knights-analytics/depthrt/options"
)

func NewORTRuntime(_ []byte, _ ...options.WithOption) (*Runtime, error) {
	log.Error().Msg("to enable ORT, run `go build -tags ORT` or `go build -tags ALL`")
	return nil, ErrUnknownBackend
}
