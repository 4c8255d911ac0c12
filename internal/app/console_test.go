package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/joypose/internal/link"
)

func TestConsoleHandlers(t *testing.T) {
	var out bytes.Buffer
	h := consoleHandlers{out: &out, log: zerolog.Nop()}

	payload, err := json.Marshal(sampleTransform(45))
	require.NoError(t, err)
	h.transform(payload)
	h.transform([]byte("{not json"))
	h.link([]byte(`{"state":"degraded","reason":"read error: EOF"}`))
	h.link([]byte(`{"state":"exploded"}`))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		"[POSE] X=  1.000  Y=  0.500  Z= -2.000  PITCH=  0.00  YAW= 45.00  ROLL=  0.00  S=0.010",
		lines[0])
	assert.Equal(t, "[LINK] degraded(read error: EOF)", lines[1])
}

func TestFormatLink(t *testing.T) {
	assert.Equal(t, "[LINK] connecting", formatLink(link.LinkState{State: link.Connecting}))
	assert.Equal(t, "[LINK] connected mock", formatLink(link.LinkState{State: link.Connected, Port: "mock"}))
}

func TestConsoleRenderer_Throttles(t *testing.T) {
	var out bytes.Buffer
	r := &consoleRenderer{out: &out, interval: time.Hour}

	require.NoError(t, r.Render(nil, sampleTransform(1)))
	require.NoError(t, r.Render(nil, sampleTransform(2)))

	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), "YAW=  1.00")
}
