package stt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

func drain(stream repositories.SpeechToTextStreaming) []entities.TranscriptSegment {
	var out []entities.TranscriptSegment
	for segment := range stream.Results() {
		out = append(out, segment)
	}
	return out
}

func TestMockSpeechToText(t *testing.T) {
	mock := NewMockSpeechToText(zaptest.NewLogger(t))

	stream, err := mock.OpenStream(context.Background(), repositories.AudioConfig{Language: "es"})
	require.NoError(t, err)

	require.NoError(t, stream.Stream(make([]byte, 40000)))
	require.NoError(t, stream.Finalize())
	require.NoError(t, stream.Finalize(), "nothing buffered, nothing emitted")
	require.NoError(t, stream.Stream(make([]byte, 100)))
	require.NoError(t, stream.CloseSend())

	assert.Equal(t, []entities.TranscriptSegment{
		{Text: "Gracias por escuchar."},
		{Text: "Gracias por escuchar.", Final: true},
		{Text: "Hola.", Final: true},
	}, drain(stream))
	assert.NoError(t, stream.Err())
	assert.NoError(t, stream.Close())
}

func TestMockSpeechToTextFallsBackToEnglish(t *testing.T) {
	mock := NewMockSpeechToText(zaptest.NewLogger(t))

	stream, err := mock.OpenStream(context.Background(), repositories.AudioConfig{Language: "ja"})
	require.NoError(t, err)
	require.NoError(t, stream.Stream([]byte{0, 0}))
	require.NoError(t, stream.CloseSend())

	assert.Equal(t, []entities.TranscriptSegment{{Text: "Hello.", Final: true}}, drain(stream))
}
