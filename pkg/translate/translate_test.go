package translate

import (
	"context"
	"testing"
)

type fakeTranslator struct {
	calls []string
}

func (f *fakeTranslator) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	f.calls = append(f.calls, text)
	switch text {
	case "Hello":
		return "Hola", nil
	case "How are you":
		return "Cómo estás", nil
	default:
		return text + "_" + targetLanguage, nil
	}
}

// TestRestartBatch_TranscriptSegments mirrors §8 scenario S6: empty input
// is preserved rather than sent to the translator, and positions line up.
func TestRestartBatch_TranscriptSegments(t *testing.T) {
	ft := &fakeTranslator{}
	blocks := ContentBlocks{
		VideoSummary:    "summary",
		AudioTranscript: "transcript",
		TranscriptSegments: &TranscriptSegments{
			Texts:          []string{"Hello", "How are you", ""},
			SourceLanguage: "en",
		},
	}

	out, err := RestartBatch(context.Background(), ft, blocks, "es")
	if err != nil {
		t.Fatalf("RestartBatch: %v", err)
	}

	want := []string{"Hola", "Cómo estás", ""}
	if len(out.TranscriptSegments) != len(want) {
		t.Fatalf("got %d segments, want %d", len(out.TranscriptSegments), len(want))
	}
	for i, w := range want {
		if out.TranscriptSegments[i] != w {
			t.Errorf("segment %d = %q, want %q", i, out.TranscriptSegments[i], w)
		}
	}
	if out.VideoSummary != "summary_es" {
		t.Errorf("VideoSummary = %q", out.VideoSummary)
	}
	if out.AudioTranscript != "transcript_es" {
		t.Errorf("AudioTranscript = %q", out.AudioTranscript)
	}

	for _, call := range ft.calls {
		if call == "" {
			t.Errorf("translator was called with an empty string, should have been short-circuited")
		}
	}
}

func TestRestartBatch_NoSegments(t *testing.T) {
	ft := &fakeTranslator{}
	out, err := RestartBatch(context.Background(), ft, ContentBlocks{FrameSubtitles: "sub"}, "fr")
	if err != nil {
		t.Fatalf("RestartBatch: %v", err)
	}
	if out.TranscriptSegments != nil {
		t.Errorf("expected nil TranscriptSegments when not requested, got %v", out.TranscriptSegments)
	}
	if out.FrameSubtitles != "sub_fr" {
		t.Errorf("FrameSubtitles = %q", out.FrameSubtitles)
	}
}

func TestRestartBatch_EmptyBlocksSkipTranslator(t *testing.T) {
	ft := &fakeTranslator{}
	out, err := RestartBatch(context.Background(), ft, ContentBlocks{}, "es")
	if err != nil {
		t.Fatalf("RestartBatch: %v", err)
	}
	if out.VideoSummary != "" || out.AudioTranscript != "" {
		t.Errorf("expected empty blocks to stay empty, got %+v", out)
	}
	if len(ft.calls) != 0 {
		t.Errorf("expected no translator calls for empty blocks, got %v", ft.calls)
	}
}
