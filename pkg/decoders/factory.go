package decoders

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hifiplayer/audiocore/pkg/decoders/dsd"
	"github.com/hifiplayer/audiocore/pkg/decoders/pcm"
)

// Options configures NewDecoder's codec selection.
type Options struct {
	// PreferDoP requests DSD-over-PCM passthrough for .dsf/.dff files
	// instead of FIR-decimating to 44.1kHz PCM. NewDecoder itself has no
	// device context to validate this against; callers that know the
	// target AudioOutput (Engine.Load) are responsible for checking the
	// resulting carrier rate against the device's supported rates and
	// reopening with PreferDoP: false on mismatch.
	PreferDoP bool
}

var dsdExtensions = map[string]bool{".dsf": true, ".dff": true}

// NewDecoder opens path, selecting between the PCM and DSD decoder families
// by file extension, and validating the file exists, is readable, and is
// non-empty before attempting a format-specific open.
func NewDecoder(path string, opts Options) (Decoder, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileUnreadable, err)
	}
	if info.Size() == 0 {
		return nil, ErrFileEmpty
	}

	ext := strings.ToLower(filepath.Ext(path))

	var decoder Decoder
	if dsdExtensions[ext] {
		decoder = dsd.NewDecoder(opts.PreferDoP)
	} else {
		decoder = pcm.New()
	}

	if err := decoder.Open(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoderOpenFailed, err)
	}

	return decoder, nil
}
