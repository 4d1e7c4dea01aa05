// Package ssml renders synthesis requests as SSML markup.
package ssml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"

	"github.com/daikw/speechstream/internal/speech"
)

const (
	namespace     = "http://www.w3.org/2001/10/synthesis"
	mstts         = "https://www.w3.org/2001/mstts"
	defaultLocale = "en-US"
)

// Build renders one voice, text and prosody into a speak document. It has the
// speech.BodyBuilder signature.
func Build(voice speech.Voice, text string, rate float64, style, role string) (string, error) {
	name := voice.ID()
	if name == "" {
		return "", fmt.Errorf("voice name is required")
	}
	lang, err := Locale(voice)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<speak version="1.0" xmlns="%s" xmlns:mstts="%s" xml:lang="%s">`, namespace, mstts, lang)
	fmt.Fprintf(&b, `<voice name="%s">`, escape(name))

	expressive := style != "" || role != ""
	if expressive {
		b.WriteString("<mstts:express-as")
		if style != "" {
			fmt.Fprintf(&b, ` style="%s"`, escape(style))
		}
		if role != "" {
			fmt.Fprintf(&b, ` role="%s"`, escape(role))
		}
		b.WriteString(">")
	}

	fmt.Fprintf(&b, `<prosody rate="%s">`, FormatRate(rate))
	b.WriteString(escape(text))
	b.WriteString("</prosody>")

	if expressive {
		b.WriteString("</mstts:express-as>")
	}
	b.WriteString("</voice></speak>")
	return b.String(), nil
}

// FormatRate renders a speaking rate multiplier as a signed percentage
// relative to normal speed, e.g. 1.2 -> "+20%", 0.5 -> "-50%".
func FormatRate(rate float64) string {
	if rate <= 0 {
		rate = speech.DefaultRate
	}
	pct := int(math.Round((rate - 1) * 100))
	if pct >= 0 {
		return fmt.Sprintf("+%d%%", pct)
	}
	return fmt.Sprintf("%d%%", pct)
}

// Locale returns the canonical BCP 47 tag for the voice. When the voice has
// no locale it is taken from the short name prefix ("en-US-JennyNeural").
func Locale(voice speech.Voice) (string, error) {
	raw := voice.Locale
	if raw == "" {
		parts := strings.SplitN(voice.ID(), "-", 3)
		if len(parts) == 3 {
			raw = parts[0] + "-" + parts[1]
		} else {
			raw = defaultLocale
		}
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid voice locale %q: %w", raw, err)
	}
	return tag.String(), nil
}

func escape(s string) string {
	var buf bytes.Buffer
	// xml.EscapeText only fails when the writer does.
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
