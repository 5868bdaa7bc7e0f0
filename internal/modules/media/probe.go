package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// FFprobe reads durations with the ffprobe binary
type FFprobe struct {
	path   string
	logger *zap.Logger
}

// NewFFprobe creates a prober. An empty path means "ffprobe" on $PATH.
func NewFFprobe(path string, logger *zap.Logger) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{path: path, logger: logger}
}

// probeOutput is the subset of `ffprobe -print_format json` we read
type probeOutput struct {
	Format struct {
		FormatName string            `json:"format_name"`
		Duration   string            `json:"duration"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType string            `json:"codec_type"`
		Duration  string            `json:"duration"`
		Tags      map[string]string `json:"tags"`
	} `json:"streams"`
}

// ProbeDuration returns the length of the file at path in seconds. Video uses
// the container duration only; audio falls back to stream and tag durations.
func (p *FFprobe) ProbeDuration(ctx context.Context, path, contentType string) (float64, error) {
	mediaType, ok := MediaTypeOf(contentType)
	if !ok {
		return 0, fmt.Errorf("cannot probe content type %q", contentType)
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
	}
	if mediaType == MediaAudio {
		args = append(args, "-show_streams")
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, p.path, args...)
	output, err := cmd.Output()
	if err != nil {
		p.logger.Debug("ffprobe failed", zap.String("path", path), zap.Error(err))
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseDuration(output, mediaType)
}

func parseDuration(output []byte, mediaType MediaType) (float64, error) {
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	if d, ok := parseSeconds(probe.Format.Duration); ok {
		return d, nil
	}
	if mediaType == MediaVideo {
		return 0, ErrNoDuration
	}

	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		if d, ok := parseSeconds(s.Duration); ok {
			return d, nil
		}
		if d, ok := durationFromTags(s.Tags); ok {
			return d, nil
		}
	}
	if d, ok := durationFromTags(probe.Format.Tags); ok {
		return d, nil
	}

	return 0, ErrNoDuration
}

// durationFromTags understands DURATION ("00:02:01.500000000") and ID3 TLEN (milliseconds)
func durationFromTags(tags map[string]string) (float64, bool) {
	for k, v := range tags {
		switch strings.ToUpper(k) {
		case "DURATION":
			if d, ok := parseClock(v); ok {
				return d, true
			}
			if d, ok := parseSeconds(v); ok {
				return d, true
			}
		case "TLEN":
			if ms, ok := parseSeconds(v); ok {
				return ms / 1000, true
			}
		}
	}
	return 0, false
}

func parseSeconds(s string) (float64, bool) {
	if s == "" || s == "N/A" {
		return 0, false
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// parseClock parses HH:MM:SS(.fraction)
func parseClock(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || sec < 0 {
		return 0, false
	}
	d := float64(h*3600+m*60) + sec
	if d <= 0 {
		return 0, false
	}
	return d, true
}
