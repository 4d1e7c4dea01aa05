package speech

import "slices"

// Output format identifiers sent in the X-Microsoft-OutputFormat header.
const (
	FormatMP3At16kHz  = "audio-16khz-32kbitrate-mono-mp3"
	FormatMP3At24kHz  = "audio-24khz-48kbitrate-mono-mp3"
	FormatMP3At48kHz  = "audio-48khz-96kbitrate-mono-mp3"
	FormatPCMAt16kHz  = "raw-16khz-16bit-mono-pcm"
	FormatPCMAt24kHz  = "raw-24khz-16bit-mono-pcm"
	FormatPCMAt48kHz  = "raw-48khz-16bit-mono-pcm"
	FormatOpusAt16kHz = "ogg-16khz-16bit-mono-opus"
	FormatOpusAt24kHz = "ogg-24khz-16bit-mono-opus"
	FormatWebmAt16kHz = "webm-16khz-16bit-mono-opus"
	FormatWebmAt24kHz = "webm-24khz-16bit-mono-opus"
	FormatWAVAt16kHz  = "riff-16khz-16bit-mono-pcm"
	FormatWAVAt24kHz  = "riff-24khz-16bit-mono-pcm"
	FormatWAVAt48kHz  = "riff-48khz-16bit-mono-pcm"

	DefaultFormat = FormatMP3At24kHz
)

// streamingFormats are the formats that can be played while still arriving.
// RIFF formats are excluded: their header carries the total length.
var streamingFormats = []string{
	FormatMP3At16kHz,
	FormatMP3At24kHz,
	FormatMP3At48kHz,
	FormatPCMAt16kHz,
	FormatPCMAt24kHz,
	FormatPCMAt48kHz,
	FormatOpusAt16kHz,
	FormatOpusAt24kHz,
	FormatWebmAt16kHz,
	FormatWebmAt24kHz,
}

var batchOnlyFormats = []string{
	FormatWAVAt16kHz,
	FormatWAVAt24kHz,
	FormatWAVAt48kHz,
}

// StreamingFormats returns a copy of the streaming allow-list.
func StreamingFormats() []string {
	return slices.Clone(streamingFormats)
}

// SupportsStreaming reports whether format is on the streaming allow-list.
func SupportsStreaming(format string) bool {
	return slices.Contains(streamingFormats, format)
}

// IsKnownFormat reports whether the service accepts format at all.
func IsKnownFormat(format string) bool {
	return SupportsStreaming(format) || slices.Contains(batchOnlyFormats, format)
}

// ContentTypeForFormat returns the MIME type expected for a format.
func ContentTypeForFormat(format string) string {
	switch format {
	case FormatMP3At16kHz, FormatMP3At24kHz, FormatMP3At48kHz:
		return "audio/mpeg"
	case FormatPCMAt16kHz, FormatPCMAt24kHz, FormatPCMAt48kHz:
		return "audio/basic"
	case FormatOpusAt16kHz, FormatOpusAt24kHz:
		return "audio/ogg"
	case FormatWebmAt16kHz, FormatWebmAt24kHz:
		return "audio/webm"
	case FormatWAVAt16kHz, FormatWAVAt24kHz, FormatWAVAt48kHz:
		return "audio/x-wav"
	default:
		return "application/octet-stream"
	}
}

// ExtensionForFormat returns a file extension for saving audio of a format.
func ExtensionForFormat(format string) string {
	switch ContentTypeForFormat(format) {
	case "audio/mpeg":
		return "mp3"
	case "audio/basic":
		return "pcm"
	case "audio/ogg":
		return "ogg"
	case "audio/webm":
		return "webm"
	case "audio/x-wav":
		return "wav"
	default:
		return "bin"
	}
}
