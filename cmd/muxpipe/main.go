// Command muxpipe muxes elementary media streams into one container stream
// with ffmpeg, either once from the command line or as an HTTP service.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
