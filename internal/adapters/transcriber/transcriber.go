// Package transcriber implements the TranscriberAdapter (spec.md §4.10): it
// turns a voice message — the "record meetings" capability spec.md §1
// names — into text via AssemblyAI, so a skill can treat a voice note the
// same way it treats a typed command.
package transcriber

import (
	"context"
	"fmt"
	"io"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"
)

// Result is the transcript text plus the handful of fields skills care about:
// whether the audio had multiple speakers, and AssemblyAI's confidence score.
type Result struct {
	Text       string
	Confidence float64
	Speakers   []string
}

type Adapter struct {
	client *aai.Client
}

func New(apiKey string) *Adapter {
	return &Adapter{client: aai.NewClient(apiKey)}
}

// TranscribeURL submits a publicly reachable audio URL (e.g. a Telegram
// voice-message file URL) and blocks until AssemblyAI finishes processing.
func (a *Adapter) TranscribeURL(ctx context.Context, url string) (*Result, error) {
	transcript, err := a.client.Transcripts.TranscribeFromURL(ctx, url, &aai.TranscriptOptionalParams{
		SpeakerLabels: aai.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe url: %w", err)
	}
	return toResult(transcript), nil
}

// TranscribeReader uploads raw audio bytes (e.g. a downloaded Discord
// attachment) and blocks until AssemblyAI finishes processing.
func (a *Adapter) TranscribeReader(ctx context.Context, r io.Reader) (*Result, error) {
	transcript, err := a.client.Transcripts.TranscribeFromReader(ctx, r, &aai.TranscriptOptionalParams{
		SpeakerLabels: aai.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe reader: %w", err)
	}
	return toResult(transcript), nil
}

func toResult(t *aai.Transcript) *Result {
	res := &Result{}
	if t.Text != nil {
		res.Text = *t.Text
	}
	if t.Confidence != nil {
		res.Confidence = *t.Confidence
	}
	seen := make(map[string]bool)
	for _, u := range t.Utterances {
		if u.Speaker == nil || seen[*u.Speaker] {
			continue
		}
		seen[*u.Speaker] = true
		res.Speakers = append(res.Speakers, *u.Speaker)
	}
	return res
}
