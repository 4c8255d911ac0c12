package frame

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Plain(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Sample
		wantErr error
	}{
		{"valid pressed", "512,600,1", Sample{512, 600, true}, nil},
		{"valid released with CRLF", "0,1023,0\r\n", Sample{0, 1023, false}, nil},
		{"surrounding whitespace", " 10,20,1 \n", Sample{10, 20, true}, nil},
		{"spaces around fields", "10 , 20 , 1", Sample{}, ErrMalformedFrame},
		{"space after comma", "512, 600,1", Sample{}, ErrMalformedFrame},
		{"plus sign", "+512,600,1", Sample{}, ErrMalformedFrame},
		{"empty field", "512,,1", Sample{}, ErrMalformedFrame},
		{"lone minus", "-,600,1", Sample{}, ErrMalformedFrame},
		{"hex", "0x1F,600,1", Sample{}, ErrMalformedFrame},
		{"two fields", "512,600", Sample{}, ErrMalformedFrame},
		{"four fields", "1,2,3,4", Sample{}, ErrMalformedFrame},
		{"x too large", "1024,0,0", Sample{}, ErrOutOfRange},
		{"y negative", "0,-1,0", Sample{}, ErrOutOfRange},
		{"button 2", "0,0,2", Sample{}, ErrOutOfRange},
		{"non numeric", "abc,0,0", Sample{}, ErrMalformedFrame},
		{"float", "1.5,0,0", Sample{}, ErrMalformedFrame},
		{"empty", "", Sample{}, ErrMalformedFrame},
		{"only newline", "\n", Sample{}, ErrMalformedFrame},
		{"binary noise", "5\x0012,3,0", Sample{}, ErrMalformedFrame},
		{"non ascii", "51é,3,0", Sample{}, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.line)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, Sample{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_OutOfRangeIsNotMalformed(t *testing.T) {
	_, err := Decode("1024,0,0")
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.NotErrorIs(t, err, ErrMalformedFrame)
}

func TestDecode_Sentence(t *testing.T) {
	s := Sample{AxisX: 512, AxisY: 600, Button: true}
	line := EncodeSentence(s)
	require.True(t, strings.HasPrefix(line, "$JSXYB,512,600,1*"))

	got, err := Decode(line + "\r\n")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestDecode_SentenceErrors(t *testing.T) {
	good := EncodeSentence(Sample{AxisX: 1, AxisY: 2})

	t.Run("bad checksum", func(t *testing.T) {
		bad := good[:len(good)-2] + "00"
		if bad == good {
			bad = good[:len(good)-2] + "FF"
		}
		_, err := Decode(bad)
		require.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("out of range inside valid sentence", func(t *testing.T) {
		line := EncodeSentence(Sample{AxisX: 2000})
		_, err := Decode(line)
		require.ErrorIs(t, err, ErrOutOfRange)
	})

	t.Run("wrong field count", func(t *testing.T) {
		body := SentencePrefix + ",1,2"
		_, err := Decode("$" + body + "*" + checksumOf(body))
		require.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("unknown sentence type", func(t *testing.T) {
		body := "JSABC,1,2,3"
		_, err := Decode("$" + body + "*" + checksumOf(body))
		require.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Decode("$JSXYB,1,2")
		require.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	for _, s := range []Sample{{0, 0, false}, {RawMax, RawMax, true}, {512, 3, true}} {
		got, err := Decode(Encode(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func checksumOf(body string) string {
	var c byte
	for i := 0; i < len(body); i++ {
		c ^= body[i]
	}
	const hex = "0123456789ABCDEF"
	return string([]byte{hex[c>>4], hex[c&0x0f]})
}
