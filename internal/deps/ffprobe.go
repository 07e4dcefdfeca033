package deps

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

const versionTimeout = 5 * time.Second

// FFprobeRequirement describes the optional ffprobe binary used for rich
// metadata. Without it metadata is read from the movie header directly.
func FFprobeRequirement(binary string) Requirement {
	return Requirement{
		Name:        "FFprobe",
		Command:     binary,
		Description: "Reads duration, resolution and codec details",
		Optional:    true,
		VersionArgs: []string{"-version"},
	}
}

// CheckFFprobe reports ffprobe availability along with its version banner.
func CheckFFprobe(ctx context.Context, binary string) Status {
	return CheckBinaries(ctx, []Requirement{FFprobeRequirement(binary)})[0]
}

func probeVersion(ctx context.Context, binary string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, args...).Output() //nolint:gosec
	if err != nil {
		return "", err
	}
	return firstVersionLine(out), nil
}

// firstVersionLine trims "ffprobe version 6.1.1-3ubuntu5 Copyright ..." to
// "ffprobe version 6.1.1-3ubuntu5".
func firstVersionLine(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if !scanner.Scan() {
		return ""
	}
	line := strings.TrimSpace(scanner.Text())
	if idx := strings.Index(line, " Copyright"); idx > 0 {
		line = line[:idx]
	}
	return line
}
