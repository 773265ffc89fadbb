//go:build !unix

package pipe

import (
	"os"

	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
)

func mkfifo(path string) error {
	return muxerrors.ErrUnsupported
}

func openWriter(path string) (*os.File, error) {
	return nil, muxerrors.ErrUnsupported
}
