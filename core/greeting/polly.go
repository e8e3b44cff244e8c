package greeting

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
)

// PollyAPI is the subset of the Polly client used here.
type PollyAPI interface {
	SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollySynthesizer renders speech with the neural engine as MP3.
type PollySynthesizer struct {
	client PollyAPI
}

// NewPollySynthesizer wraps client.
func NewPollySynthesizer(client PollyAPI) *PollySynthesizer {
	return &PollySynthesizer{client: client}
}

// Synthesize returns the audio stream; the caller closes it.
func (p *PollySynthesizer) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	out, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       types.EngineNeural,
		OutputFormat: types.OutputFormatMp3,
		Text:         aws.String(text),
		VoiceId:      types.VoiceId(voice),
	})
	if err != nil {
		return nil, fmt.Errorf("polly: synthesize: %w", err)
	}
	if out.AudioStream == nil {
		return nil, fmt.Errorf("polly: empty audio stream")
	}
	return out.AudioStream, nil
}
