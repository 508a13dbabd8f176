package peer

import (
	"fmt"
	"math"
	"time"

	"node.town/tabscribe/snd"
	"node.town/tabscribe/stt"
)

// Echo is a Recognizer that describes the audio it receives instead of
// recognizing speech. Every chunk produces a partial; every FinalEvery
// chunks the partial is confirmed and translated.
type Echo struct {
	FinalEvery int

	chunks  int
	samples int
	peak    float64
	start   time.Duration
}

func NewEcho() Recognizer {
	return &Echo{FinalEvery: 5}
}

func (e *Echo) Process(pcm []byte, langs stt.Languages) []stt.ServerMessage {
	for i := 0; i+1 < len(pcm); i += 2 {
		v := math.Abs(float64(int16(uint16(pcm[i])|uint16(pcm[i+1])<<8))) / 32768
		e.peak = math.Max(e.peak, v)
	}
	e.samples += len(pcm) / snd.BytesPerSample
	e.chunks++

	if e.FinalEvery > 0 && e.chunks%e.FinalEvery == 0 {
		return e.final(langs)
	}
	return []stt.ServerMessage{{
		Type: stt.TypeTranscription,
		Text: e.describe(),
	}}
}

func (e *Echo) Finish(langs stt.Languages) []stt.ServerMessage {
	if e.samples == 0 {
		return nil
	}
	return e.final(langs)
}

func (e *Echo) elapsed() time.Duration {
	return time.Duration(e.samples) * time.Second / snd.SampleRate
}

func (e *Echo) describe() string {
	level := "silence"
	if e.peak > 0 {
		level = fmt.Sprintf("%.0f dBFS peak", 20*math.Log10(e.peak))
	}
	return fmt.Sprintf("[%s] %.1fs of audio, %s", e.elapsedSinceFinal(), e.elapsed().Seconds(), level)
}

func (e *Echo) elapsedSinceFinal() string {
	return (e.elapsed() - e.start).Round(100 * time.Millisecond).String()
}

func (e *Echo) final(langs stt.Languages) []stt.ServerMessage {
	text := e.describe()
	start := float64(e.start.Milliseconds())
	end := float64(e.elapsed().Milliseconds())

	e.start = e.elapsed()
	e.peak = 0

	return []stt.ServerMessage{
		{
			Type:    stt.TypeTranscription,
			Text:    text,
			IsFinal: true,
			Start:   &start,
			End:     &end,
		},
		{
			Type:    stt.TypeTranslation,
			Text:    fmt.Sprintf("(%s) %s", langs.Target, text),
			IsFinal: true,
		},
	}
}
