package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversational-client/internal/model"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
)

const sampleStream = `{"type":"chunk","content":"Hel"}
{"type":"chunk","content":"lo, 世界 👋"}
{"type":"chunk","content":"ü"}
{"type":"end","ai_message":{"id":"srv-1"}}
`

func decodeChunks(t *testing.T, chunks [][]byte) []model.Event {
	t.Helper()
	d := NewDecoder(logger.NewNop())
	var events []model.Event
	for _, c := range chunks {
		events = append(events, d.Feed(c)...)
	}
	return append(events, d.Flush()...)
}

func splitEvery(data []byte, n int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		k := n
		if k > len(data) {
			k = len(data)
		}
		out = append(out, data[:k])
		data = data[k:]
	}
	return out
}

func TestDecoder_LineSplitAcrossChunks(t *testing.T) {
	events := decodeChunks(t, [][]byte{
		[]byte(`{"typ`),
		[]byte("e\":\"chunk\",\"content\":\"Hi\"}\n{\"type\":\"end\"}\n"),
	})

	require.Len(t, events, 2)
	assert.Equal(t, model.ChunkEvent{Content: "Hi"}, events[0])
	assert.Equal(t, model.EndEvent{}, events[1])
}

func TestDecoder_ChunkSplitInvariance(t *testing.T) {
	data := []byte(sampleStream)

	var perLine [][]byte
	for _, line := range strings.SplitAfter(sampleStream, "\n") {
		if line != "" {
			perLine = append(perLine, []byte(line))
		}
	}
	want := decodeChunks(t, perLine)
	require.Len(t, want, 4)

	for _, size := range []int{1, 2, 3, 5, 7, 13, len(data)} {
		got := decodeChunks(t, splitEvery(data, size))
		assert.Equal(t, want, got, "chunk size %d", size)
	}

	// Every single split point, including the middle of each multi-byte rune.
	for i := 1; i < len(data); i++ {
		got := decodeChunks(t, [][]byte{data[:i], data[i:]})
		assert.Equal(t, want, got, "split at %d", i)
	}
}

func TestDecoder_MultiByteSplit(t *testing.T) {
	line := []byte(`{"type":"chunk","content":"😀"}` + "\n")
	emoji := bytes.Index(line, []byte("😀"))
	require.Positive(t, emoji)

	events := decodeChunks(t, [][]byte{line[:emoji+2], line[emoji+2:]})
	require.Len(t, events, 1)
	assert.Equal(t, model.ChunkEvent{Content: "😀"}, events[0])
}

func TestDecoder_MalformedLineResilience(t *testing.T) {
	d := NewDecoder(logger.NewNop())
	events := d.Feed([]byte("{\"type\":\"chunk\",\"content\":\"a\"}\nnot json at all\n{\"type\":\"chunk\",\"content\":\"b\"}\n"))
	events = append(events, d.Flush()...)

	require.Len(t, events, 2)
	assert.Equal(t, model.ChunkEvent{Content: "a"}, events[0])
	assert.Equal(t, model.ChunkEvent{Content: "b"}, events[1])
	assert.Equal(t, 1, d.Stats().Malformed)
	assert.Equal(t, 2, d.Stats().Events)
}

func TestDecoder_UnknownTypeDropped(t *testing.T) {
	d := NewDecoder(logger.NewNop())
	events := d.Feed([]byte("{\"type\":\"start\",\"user_message\":{\"id\":3}}\n{\"type\":\"end\"}\n"))

	require.Len(t, events, 1)
	assert.Equal(t, model.EventTypeEnd, events[0].Type())
	assert.Equal(t, 1, d.Stats().Unknown)
	assert.Equal(t, 1, d.Stats().Dropped())
}

func TestDecoder_OversizedLineDropped(t *testing.T) {
	huge := bytes.Repeat([]byte("x"), MaxLineSize+100)

	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "terminated",
			data: append(append([]byte(`{"type":"chunk","content":"a"}`+"\n"), huge...), []byte("\n"+`{"type":"chunk","content":"b"}`+"\n")...),
		},
		{
			name: "never terminated",
			data: append([]byte(`{"type":"chunk","content":"a"}`+"\n"), huge...),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDecoder(logger.NewNop())
			var events []model.Event
			for _, c := range splitEvery(tc.data, readBufferSize) {
				events = append(events, d.Feed(c)...)
				assert.LessOrEqual(t, len(d.pending), MaxLineSize+readBufferSize)
			}
			events = append(events, d.Flush()...)

			require.NotEmpty(t, events)
			assert.Equal(t, model.ChunkEvent{Content: "a"}, events[0])
			if tc.name == "terminated" {
				require.Len(t, events, 2)
				assert.Equal(t, model.ChunkEvent{Content: "b"}, events[1])
			} else {
				assert.Len(t, events, 1)
			}
			assert.Equal(t, 1, d.Stats().Malformed)
		})
	}
}

func TestDecoder_OversizedLineInOneChunk(t *testing.T) {
	huge := `{"type":"chunk","content":"` + strings.Repeat("y", MaxLineSize) + `"}`
	events := decodeChunks(t, [][]byte{[]byte(huge + "\n" + `{"type":"end"}` + "\n")})

	require.Len(t, events, 1)
	assert.Equal(t, model.EndEvent{}, events[0])
}

func TestDecoder_BlankLinesAndCRLF(t *testing.T) {
	events := decodeChunks(t, [][]byte{
		[]byte("\n\r\n   \n{\"type\":\"chunk\",\"content\":\"x\"}\r\n\n"),
	})
	require.Len(t, events, 1)
	assert.Equal(t, model.ChunkEvent{Content: "x"}, events[0])
}

func TestDecoder_FlushTrailingLine(t *testing.T) {
	d := NewDecoder(logger.NewNop())
	assert.Empty(t, d.Feed([]byte(`{"type":"chunk","content":"tail"}`)))

	events := d.Flush()
	require.Len(t, events, 1)
	assert.Equal(t, model.ChunkEvent{Content: "tail"}, events[0])
}

func TestDecoder_FlushIncompleteLine(t *testing.T) {
	d := NewDecoder(logger.NewNop())
	d.Feed([]byte(`{"type":"chunk","cont`))

	assert.Empty(t, d.Flush())
	assert.Equal(t, 1, d.Stats().Malformed)
}

func TestDecoder_NotRestartable(t *testing.T) {
	d := NewDecoder(logger.NewNop())
	d.Flush()

	assert.Nil(t, d.Feed([]byte("{\"type\":\"end\"}\n")))
	assert.Nil(t, d.Flush())
	err := d.Run(context.Background(), strings.NewReader(""), func(model.Event) error { return nil })
	assert.ErrorIs(t, err, ErrDecoderClosed)
}

func TestDecoder_RunOneByteReader(t *testing.T) {
	d := NewDecoder(logger.NewNop())
	var got []model.Event
	err := d.Run(context.Background(), iotest.OneByteReader(strings.NewReader(sampleStream)), func(ev model.Event) error {
		got = append(got, ev)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, model.ChunkEvent{Content: "lo, 世界 👋"}, got[1])
	assert.Equal(t, "srv-1", got[3].(model.EndEvent).ServerID())
}

func TestDecoder_RunStop(t *testing.T) {
	d := NewDecoder(logger.NewNop())
	var got int
	err := d.Run(context.Background(), strings.NewReader(sampleStream), func(ev model.Event) error {
		got++
		if got == 2 {
			return ErrStop
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestDecoder_RunHandlerError(t *testing.T) {
	boom := errors.New("boom")
	d := NewDecoder(logger.NewNop())
	err := d.Run(context.Background(), strings.NewReader(sampleStream), func(model.Event) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestDecoder_RunReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader("{\"type\":\"chunk\",\"content\":\"a\"}\n{\"type\":\"chu"),
		iotest.ErrReader(boom),
	)

	d := NewDecoder(logger.NewNop())
	var got []model.Event
	err := d.Run(context.Background(), r, func(ev model.Event) error {
		got = append(got, ev)
		return nil
	})

	assert.ErrorIs(t, err, boom)
	assert.Len(t, got, 1)
}

func TestDecoder_RunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDecoder(logger.NewNop())
	err := d.Run(ctx, strings.NewReader(sampleStream), func(model.Event) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
