package session

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

// MinEncoderMajor is the oldest supported encoder major version.
const MinEncoderMajor = 4

// ErrEncoderUnusable is returned when the encoder binary is missing, cannot
// run, or is too old.
var ErrEncoderUnusable = errors.New("encoder unusable")

var versionPattern = regexp.MustCompile(`version\s+n?(\d+)\.(\d+)`)

// EncoderVersion runs "<bin> -version" and returns the reported major and
// minor version.
func EncoderVersion(ctx context.Context, bin string) (major, minor int, err error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrEncoderUnusable, err)
	}
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s -version: %v", ErrEncoderUnusable, bin, err)
	}
	m := versionPattern.FindSubmatch(out)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: no version in %s -version output", ErrEncoderUnusable, bin)
	}
	major, _ = strconv.Atoi(string(m[1]))
	minor, _ = strconv.Atoi(string(m[2]))
	return major, minor, nil
}

// CheckEncoder fails unless bin runs and reports at least MinEncoderMajor.
func CheckEncoder(ctx context.Context, bin string) (string, error) {
	major, minor, err := EncoderVersion(ctx, bin)
	if err != nil {
		return "", err
	}
	v := fmt.Sprintf("%d.%d", major, minor)
	if major < MinEncoderMajor {
		return v, fmt.Errorf("%w: version %s, need %d.0 or newer", ErrEncoderUnusable, v, MinEncoderMajor)
	}
	return v, nil
}
