package validation

import "testing"

func TestExpectedChunkCount(t *testing.T) {
	tests := []struct {
		name string
		size int64
		want int
	}{
		{"one byte", 1, 1},
		{"exactly one chunk", ChunkSize, 1},
		{"one chunk plus a byte", ChunkSize + 1, 2},
		{"three exact chunks", 3 * ChunkSize, 3},
		{"three chunks with remainder", 3*ChunkSize + 512, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpectedChunkCount(tt.size); got != tt.want {
				t.Errorf("ExpectedChunkCount(%d) = %d, want %d", tt.size, got, tt.want)
			}
		})
	}
}

func TestAllowedMIMEType(t *testing.T) {
	tests := []struct {
		mimeType string
		want     bool
	}{
		{"video/mp4", true},
		{"video/quicktime", true},
		{"video/webm", true},
		{"video/avi", false},
		{"image/png", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			if got := AllowedMIMEType(tt.mimeType); got != tt.want {
				t.Errorf("AllowedMIMEType(%q) = %v, want %v", tt.mimeType, got, tt.want)
			}
		})
	}
}

func TestValidateGroupRequest(t *testing.T) {
	validSizes := []int64{ChunkSize, 2 * ChunkSize, ChunkSize / 2}
	validMIMEs := []string{"video/mp4", "video/mp4", "video/webm"}
	validDurations := []int64{5_000, 10_000, 60_000}

	t.Run("valid request passes", func(t *testing.T) {
		errs := ValidateGroupRequest(3, validSizes, validMIMEs, validDurations)
		if len(errs) != 0 {
			t.Errorf("expected no violations, got %v", errs)
		}
	})

	t.Run("wrong count rejected", func(t *testing.T) {
		errs := ValidateGroupRequest(2, validSizes[:2], validMIMEs[:2], validDurations[:2])
		if len(errs) != 1 {
			t.Fatalf("expected 1 violation, got %d: %v", len(errs), errs)
		}
		if errs[0].Field != "count" {
			t.Errorf("violation field = %q, want count", errs[0].Field)
		}
	})

	t.Run("mismatched array lengths skip per-entry checks", func(t *testing.T) {
		errs := ValidateGroupRequest(3, validSizes[:2], validMIMEs, validDurations)
		if len(errs) != 1 {
			t.Fatalf("expected 1 violation, got %d: %v", len(errs), errs)
		}
		if errs[0].Field != "sizes" {
			t.Errorf("violation field = %q, want sizes", errs[0].Field)
		}
	})

	t.Run("collects all per-entry violations", func(t *testing.T) {
		sizes := []int64{0, MaxFileSize + 1, ChunkSize}
		mimes := []string{"video/mp4", "text/plain", "video/mp4"}
		durations := []int64{500, 5_000, 61_000}

		errs := ValidateGroupRequest(3, sizes, mimes, durations)
		if len(errs) != 4 {
			t.Fatalf("expected 4 violations, got %d: %v", len(errs), errs)
		}

		byField := map[string]int{}
		for _, v := range errs {
			byField[v.Field]++
		}
		if byField["size"] != 2 {
			t.Errorf("size violations = %d, want 2", byField["size"])
		}
		if byField["mime_type"] != 1 {
			t.Errorf("mime_type violations = %d, want 1", byField["mime_type"])
		}
		if byField["duration_ms"] != 1 {
			t.Errorf("duration_ms violations = %d, want 1", byField["duration_ms"])
		}
	})

	t.Run("duration boundaries", func(t *testing.T) {
		for _, d := range []int64{MinDurationMs, MaxDurationMs} {
			errs := ValidateGroupRequest(3, validSizes, validMIMEs, []int64{d, d, d})
			if len(errs) != 0 {
				t.Errorf("duration %d should be valid, got %v", d, errs)
			}
		}
		for _, d := range []int64{MinDurationMs - 1, MaxDurationMs + 1} {
			errs := ValidateGroupRequest(3, validSizes, validMIMEs, []int64{d, d, d})
			if len(errs) != 3 {
				t.Errorf("duration %d should produce 3 violations, got %v", d, errs)
			}
		}
	})
}

func TestValidateSessionMetadata(t *testing.T) {
	t.Run("consistent metadata passes", func(t *testing.T) {
		errs := ValidateSessionMetadata(2*ChunkSize+100, 3, "video/mp4", 5_000)
		if len(errs) != 0 {
			t.Errorf("expected no violations, got %v", errs)
		}
	})

	t.Run("inconsistent chunk count rejected", func(t *testing.T) {
		errs := ValidateSessionMetadata(2*ChunkSize+100, 2, "video/mp4", 5_000)
		if len(errs) != 1 {
			t.Fatalf("expected 1 violation, got %d: %v", len(errs), errs)
		}
		if errs[0].Field != "chunk_count" {
			t.Errorf("violation field = %q, want chunk_count", errs[0].Field)
		}
	})

	t.Run("zero size skips chunk count check", func(t *testing.T) {
		errs := ValidateSessionMetadata(0, 5, "video/mp4", 5_000)
		for _, v := range errs {
			if v.Field == "chunk_count" {
				t.Errorf("unexpected chunk_count violation for zero size: %v", v)
			}
		}
	})
}

func TestValidateOwnerID(t *testing.T) {
	if err := ValidateOwnerID("user-123"); err != nil {
		t.Errorf("expected valid owner id, got %v", err)
	}
	if err := ValidateOwnerID(""); err == nil {
		t.Error("expected error for empty owner id")
	}

	long := make([]byte, MaxOwnerIDLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidateOwnerID(string(long)); err == nil {
		t.Error("expected error for overlong owner id")
	}
	if err := ValidateOwnerID(string(long[:MaxOwnerIDLen])); err != nil {
		t.Errorf("owner id at max length should be valid, got %v", err)
	}
}
