package tts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

func TestMockTextToSpeech(t *testing.T) {
	mock := NewMockTextToSpeech(16000, zaptest.NewLogger(t))

	result, err := mock.Synthesize(context.Background(), repositories.SynthesisRequest{Text: "hola", Language: "es"})
	require.NoError(t, err)
	assert.Equal(t, entities.EncodingPCM, result.Encoding)
	assert.Len(t, result.Audio, 4*800*2, "50ms of 16kHz linear16 per character")
	assert.NotZero(t, result.Audio[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mock.Synthesize(ctx, repositories.SynthesisRequest{Text: "hola"})
	assert.ErrorIs(t, err, context.Canceled)
}
