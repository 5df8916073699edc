package playback

import (
	"strconv"
	"strings"
)

// DefaultSampleRate applies when the mime carries no rate parameter.
const DefaultSampleRate = 16000

// Format describes linear PCM parsed from a mime like "audio/L16; rate=24000; channels=1".
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ParseMime extracts rate, channels and sample width. Unknown or malformed
// parameters fall back to 16 kHz mono 16-bit.
func ParseMime(mime string) Format {
	f := Format{SampleRate: DefaultSampleRate, Channels: 1, BitsPerSample: 16}

	parts := strings.Split(mime, ";")
	if len(parts) == 0 {
		return f
	}

	if _, subtype, ok := strings.Cut(strings.TrimSpace(parts[0]), "/"); ok {
		if strings.HasPrefix(subtype, "L") || strings.HasPrefix(subtype, "l") {
			if bits, err := strconv.Atoi(subtype[1:]); err == nil && bits > 0 {
				f.BitsPerSample = bits
			}
		}
	}

	for _, param := range parts[1:] {
		key, value, ok := strings.Cut(param, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n <= 0 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "rate":
			f.SampleRate = n
		case "channels":
			f.Channels = n
		}
	}

	return f
}

// String renders f back into the mime convention used on the wire.
func (f Format) String() string {
	var b strings.Builder
	b.WriteString("audio/L")
	b.WriteString(strconv.Itoa(f.BitsPerSample))
	b.WriteString("; rate=")
	b.WriteString(strconv.Itoa(f.SampleRate))
	if f.Channels > 1 {
		b.WriteString("; channels=")
		b.WriteString(strconv.Itoa(f.Channels))
	}
	return b.String()
}
