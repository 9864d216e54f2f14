// Package protocol decodes the ASCII-tagged frames sent by Curo peripherals
// over BLE notifications.
//
// A frame is UTF-8 text of the form TAG:value[,TAG2:value2]. The module
// (sensor) channel carries temperature (OB) and oximetry (HR/O2) frames, the
// status channel carries status code (STAT), module identifier (ID) and IP
// address (IP) frames.
package protocol

import "strings"

// Tag identifies the kind of a frame.
type Tag int

const (
	TagUnknown Tag = iota
	TagOB          // temperature
	TagHR          // pulse rate + oxygen saturation
	TagSTAT        // device status code
	TagID          // camera/module identifier
	TagIP          // device IP address
)

// tagPrefixes is checked in order; the first matching prefix wins.
var tagPrefixes = []struct {
	tag    Tag
	prefix string
}{
	{TagOB, "OB:"},
	{TagHR, "HR:"},
	{TagSTAT, "STAT:"},
	{TagID, "ID:"},
	{TagIP, "IP:"},
}

// oxygenPrefix marks the saturation field of an HR frame.
const oxygenPrefix = "O2:"

func (t Tag) String() string {
	switch t {
	case TagOB:
		return "OB"
	case TagHR:
		return "HR"
	case TagSTAT:
		return "STAT"
	case TagID:
		return "ID"
	case TagIP:
		return "IP"
	default:
		return "Unknown"
	}
}

// Payload is a tokenized frame.
type Payload struct {
	Tag Tag
	// Body is the frame text with the tag prefix removed, unsplit.
	Body string
	// Fields is Body split on ','. For TagUnknown it is nil.
	Fields []string
	// Text is the full decoded frame text.
	Text string
}

// Tokenize decodes raw as UTF-8 text and classifies it by tag prefix.
// Invalid UTF-8 sequences are replaced with U+FFFD rather than rejected, so a
// frame with a corrupted tail still keeps its tag. Prefix matching is
// case-sensitive.
func Tokenize(raw []byte) Payload {
	text := strings.ToValidUTF8(string(raw), "\uFFFD")

	for _, tp := range tagPrefixes {
		if !strings.HasPrefix(text, tp.prefix) {
			continue
		}
		body := text[len(tp.prefix):]
		return Payload{
			Tag:    tp.tag,
			Body:   body,
			Fields: strings.Split(body, ","),
			Text:   text,
		}
	}
	return Payload{Tag: TagUnknown, Text: text}
}
