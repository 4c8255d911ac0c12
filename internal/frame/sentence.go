package frame

import (
	"fmt"

	nmea "github.com/adrianmo/go-nmea"
)

const (
	// SentencePrefix is the talker+type of the checksummed framing.
	SentencePrefix = "JSXYB"
	sentenceType   = "XYB"
)

// xyb is the parsed checksummed sentence before range validation.
type xyb struct {
	nmea.BaseSentence
	X, Y, B int64
}

var sentenceParser = nmea.SentenceParser{
	CustomParsers: map[string]nmea.ParserFunc{
		sentenceType: parseXYB,
	},
}

func parseXYB(s nmea.BaseSentence) (nmea.Sentence, error) {
	if len(s.Fields) != 3 {
		return nil, fmt.Errorf("want 3 fields, got %d", len(s.Fields))
	}
	p := nmea.NewParser(s)
	m := xyb{
		BaseSentence: s,
		X:            p.Int64(0, "x"),
		Y:            p.Int64(1, "y"),
		B:            p.Int64(2, "button"),
	}
	return m, p.Err()
}

func decodeSentence(line string) (Sample, error) {
	sentence, err := sentenceParser.Parse(line)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	m, ok := sentence.(xyb)
	if !ok {
		return Sample{}, fmt.Errorf("%w: unexpected sentence %s", ErrMalformedFrame, sentence.Prefix())
	}
	return NewSample(int(m.X), int(m.Y), int(m.B))
}

// EncodeSentence renders a Sample in the checksummed framing, without terminator.
func EncodeSentence(s Sample) string {
	body := SentencePrefix + "," + Encode(s)
	return "$" + body + "*" + nmea.Checksum(body)
}
