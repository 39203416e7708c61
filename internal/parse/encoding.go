package parse

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"

	"github.com/Luna-leo/seriesd/pkg/models"
)

// DecodeText decodes raw file bytes into UTF-8 text. declared selects the
// source encoding ("utf-8", "shift-jis", "euc-jp", "iso-2022-jp"); empty
// or "auto" runs charset detection over the byte stream. A leading BOM is
// stripped after decoding. Decoding problems (replacement characters,
// stray control bytes) are reported as a non-fatal diagnostic, not an
// error: a mis-detected encoding degrades cells, it does not reject the
// file.
func DecodeText(raw []byte, declared string) (string, []models.Diagnostic, error) {
	name := normalizeEncodingName(declared)
	if name == "auto" {
		detected, err := detectEncoding(raw)
		if err != nil {
			// Detection failure: fall through to UTF-8 and let the
			// sanity check below flag anything suspicious.
			name = "utf-8"
		} else {
			name = detected
		}
	}

	enc, err := encodingByName(name)
	if err != nil {
		return "", nil, err
	}

	decoded := raw
	if enc != nil {
		decoded, err = enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}

	text := strings.TrimPrefix(string(decoded), "\ufeff")

	var diags []models.Diagnostic
	if msg := textSanityProblem(text); msg != "" {
		diags = append(diags, models.Diagnostic{
			Column:  -1,
			Kind:    models.DiagEncoding,
			Message: fmt.Sprintf("decoded as %s: %s (encoding may be mis-detected)", name, msg),
		})
	}
	return text, diags, nil
}

func normalizeEncodingName(declared string) string {
	s := strings.ToLower(strings.TrimSpace(declared))
	s = strings.NewReplacer("_", "-", " ", "").Replace(s)
	switch s {
	case "", "auto":
		return "auto"
	case "utf-8", "utf8":
		return "utf-8"
	case "shift-jis", "shiftjis", "sjis", "cp932", "windows-31j":
		return "shift-jis"
	case "euc-jp", "eucjp":
		return "euc-jp"
	case "iso-2022-jp", "iso2022jp":
		return "iso-2022-jp"
	default:
		return s
	}
}

func encodingByName(name string) (encoding.Encoding, error) {
	switch name {
	case "utf-8":
		return nil, nil // no transform needed
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM), nil
	case "shift-jis":
		return japanese.ShiftJIS, nil
	case "euc-jp":
		return japanese.EUCJP, nil
	case "iso-2022-jp":
		return japanese.ISO2022JP, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

// detectEncoding maps a chardet best guess onto the encodings this
// parser supports.
func detectEncoding(raw []byte) (string, error) {
	// Cheap fast path: valid UTF-8 is overwhelmingly the common case
	// and chardet can misreport short ASCII-heavy inputs.
	if utf8.Valid(raw) {
		return "utf-8", nil
	}

	result, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil {
		return "", fmt.Errorf("charset detection failed: %w", err)
	}

	switch strings.ToLower(result.Charset) {
	case "utf-8":
		return "utf-8", nil
	case "utf-16le":
		return "utf-16le", nil
	case "utf-16be":
		return "utf-16be", nil
	case "shift_jis", "shift-jis", "windows-31j":
		return "shift-jis", nil
	case "euc-jp":
		return "euc-jp", nil
	case "iso-2022-jp":
		return "iso-2022-jp", nil
	default:
		// Latin-1 and friends decode byte-for-byte as UTF-8 often
		// enough; the sanity check flags the fallout.
		return "utf-8", nil
	}
}

// textSanityProblem reports why decoded text looks wrong, or "".
func textSanityProblem(text string) string {
	replacements := strings.Count(text, string(rune(0xFFFD)))
	if replacements > 0 {
		return fmt.Sprintf("%d replacement characters after decoding", replacements)
	}
	for _, r := range text {
		if r < 0x20 && r != '\t' && r != '\r' && r != '\n' {
			return fmt.Sprintf("control byte 0x%02x in decoded text", r)
		}
	}
	return ""
}
