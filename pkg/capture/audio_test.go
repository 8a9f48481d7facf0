package capture

import "testing"

func TestParseMeanVolume(t *testing.T) {
	out := `[Parsed_volumedetect_0 @ 0x5596] n_samples: 96000
[Parsed_volumedetect_0 @ 0x5596] mean_volume: -23.4 dB
[Parsed_volumedetect_0 @ 0x5596] max_volume: -5.0 dB`

	db, err := parseMeanVolume(out)
	if err != nil {
		t.Fatalf("parseMeanVolume: %v", err)
	}
	if db != -23.4 {
		t.Errorf("mean volume = %v, want -23.4", db)
	}
}

func TestParseMeanVolumeMissing(t *testing.T) {
	if _, err := parseMeanVolume("no audio stream"); err == nil {
		t.Error("expected error for output without mean_volume")
	}
}
