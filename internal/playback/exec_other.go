//go:build !unix

package playback

import "os"

func pauseProcess(*os.Process) error {
	return ErrUnsupported
}

func resumeProcess(*os.Process) error {
	return ErrUnsupported
}
