package session

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// Progress is the encoder's latest status report.
type Progress struct {
	Frames      int     `json:"frames"`
	CurrentFPS  int     `json:"fps"`
	CurrentKbps float64 `json:"bitrate"`
	TargetSize  int     `json:"size"`
	Timemark    string  `json:"time"`
}

var spaceAfterEquals = regexp.MustCompile(`=\s+`)

// ParseProgress reads an encoder status line such as
//
//	frame=  100 fps= 30 q=-1.0 size=    2048kB time=00:00:10.00 bitrate= 500.0kbits/s
//
// A line is a status line only if every whitespace-separated token is a
// key=value pair and it reports a frame count or a time marker.
func ParseProgress(line string) (Progress, bool) {
	line = strings.TrimSpace(spaceAfterEquals.ReplaceAllString(line, "="))
	if line == "" {
		return Progress{}, false
	}

	fields := make(map[string]string)
	for _, tok := range strings.Fields(line) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" {
			return Progress{}, false
		}
		fields[k] = v
	}
	_, hasFrame := fields["frame"]
	_, hasTime := fields["time"]
	if !hasFrame && !hasTime {
		return Progress{}, false
	}

	size, ok := fields["size"]
	if !ok {
		size = fields["Lsize"]
	}
	return Progress{
		Frames:      leadingInt(fields["frame"]),
		CurrentFPS:  leadingInt(fields["fps"]),
		CurrentKbps: kbps(fields["bitrate"]),
		TargetSize:  leadingInt(size),
		Timemark:    fields["time"],
	}, true
}

func leadingInt(s string) int {
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || end == 0 && s[end] == '-') {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

func kbps(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "kbits/s"), 64)
	if err != nil {
		return 0
	}
	return f
}

// scanStatusLines splits on \n or \r, since the encoder redraws its status
// line with carriage returns.
func scanStatusLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, bytes.TrimRight(data[:i], "\r\n"), nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
