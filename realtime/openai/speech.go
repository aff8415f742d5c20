package openai

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// maxSpeechBytes bounds a rendered intro (about 40 s of 24 kHz PCM16).
const maxSpeechBytes = 2 << 20

type speechClient struct {
	client openai.Client
	model  string
}

func newSpeechClient(apiKey, model string, opts ...option.RequestOption) *speechClient {
	if model == "" {
		model = string(openai.SpeechModelGPT4oMiniTTS)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &speechClient{client: openai.NewClient(opts...), model: model}
}

// Synthesize renders req as 24 kHz mono PCM16.
func (p *Provider) Synthesize(ctx context.Context, req voice.SpeechRequest) ([]byte, error) {
	if req.Voice == "" {
		req.Voice = p.cfg.Voice
	}
	return p.speech.synthesize(ctx, req)
}

func (c *speechClient) synthesize(ctx context.Context, req voice.SpeechRequest) ([]byte, error) {
	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          openai.SpeechModel(c.model),
		Voice:          openai.AudioSpeechNewParamsVoice(req.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeechBytes))
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	if len(data) == 0 {
		return nil, voice.ErrNoAudio
	}
	return data, nil
}
