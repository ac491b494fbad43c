package fatfs

import "errors"

// fileResult is the internal operation return code. It implements error so
// the exported API can hand codes to callers unchanged; every layer returns
// the first code it observes and no layer rewrites a code from below.
type fileResult int

const (
	frOK               fileResult = iota // succeeded
	frDiskErr                            // a hard error occurred in the low level disk I/O layer
	frIntErr                             // assertion failed
	frNotReady                           // the physical drive cannot work
	frNoFile                             // could not find the file, directory record or free slot
	frDenied                             // access denied due to prohibited access
	frWriteProtected                     // the volume is mounted read-only or the drive is write protected
	frInvalidParameter                   // given parameter is invalid
	frNoFilesystem                       // there is no valid FAT12/16 volume
	frNoSpace                            // cluster allocation exhausted the volume
	frUnsupported                        // the volume format is not supported (FAT32, exFAT)
)

var frMessages = [...]string{
	frOK:               "ok",
	frDiskErr:          "disk I/O error",
	frIntErr:           "internal error",
	frNotReady:         "drive not ready",
	frNoFile:           "no such file or directory",
	frDenied:           "access denied",
	frWriteProtected:   "write protected",
	frInvalidParameter: "invalid parameter",
	frNoFilesystem:     "no FAT12/16 filesystem",
	frNoSpace:          "no space left on volume",
	frUnsupported:      "unsupported volume format",
}

func (fr fileResult) Error() string {
	if int(fr) < len(frMessages) {
		return "fatfs: " + frMessages[fr]
	}
	return "fatfs: unknown error"
}

// IsNotExist reports whether err indicates that a name, index or free
// directory slot was absent. Mirrors the os.IsNotExist idiom.
func IsNotExist(err error) bool {
	return errors.Is(err, frNoFile)
}

// IsNoSpace reports whether err indicates that cluster allocation
// exhausted the volume.
func IsNoSpace(err error) bool {
	return errors.Is(err, frNoSpace)
}
