package charset_test

import (
	"errors"
	"strings"
	"testing"

	"textmill/internal/charset"
	"textmill/internal/ingesterr"
)

func TestUTF8Policies(t *testing.T) {
	input := []byte("caf\xc3\xa9 \xff ok")
	cases := []struct {
		policy string
		want   string
	}{
		{charset.Ignore, "café  ok"},
		{charset.Replace, "café � ok"},
	}
	for _, tc := range cases {
		dec, err := charset.New("utf-8", tc.policy)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		got, err := dec.Decode(input)
		if err != nil {
			t.Fatalf("%s: Decode: %v", tc.policy, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.policy, got, tc.want)
		}
	}
}

func TestUTF8StrictRejectsInvalid(t *testing.T) {
	dec, err := charset.New("UTF8", charset.Strict)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = dec.Decode([]byte("abc\xffdef"))
	if !errors.Is(err, ingesterr.ErrCorruptMember) {
		t.Fatalf("expected corrupt member, got %v", err)
	}
	got, err := dec.Decode([]byte("\xef\xbb\xbfvalid"))
	if err != nil || got != "valid" {
		t.Fatalf("expected BOM to be stripped, got %q, %v", got, err)
	}
}

func TestLatin1Decoding(t *testing.T) {
	dec, err := charset.New("latin1", charset.Strict)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := dec.Decode([]byte{'c', 'a', 'f', 0xe9})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "café" {
		t.Fatalf("got %q", got)
	}
}

func TestUTF16LEDecoding(t *testing.T) {
	dec, err := charset.New("utf-16le", charset.Ignore)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := dec.Decode([]byte{'h', 0, 'i', 0})
	if err != nil || got != "hi" {
		t.Fatalf("Decode = %q, %v", got, err)
	}
}

func TestUTF16KeepsEncodedReplacementCharacter(t *testing.T) {
	// "h", an encoded U+FFFD, a lone high surrogate, "i".
	input := []byte{'h', 0, 0xfd, 0xff, 0x00, 0xd8, 'i', 0}

	cases := []struct {
		policy string
		want   string
	}{
		{charset.Ignore, "h\uFFFDi"},
		{charset.Replace, "h\uFFFD\uFFFDi"},
	}
	for _, tc := range cases {
		dec, err := charset.New("utf-16le", tc.policy)
		if err != nil {
			t.Fatalf("New(%s): %v", tc.policy, err)
		}
		got, err := dec.Decode(input)
		if err != nil || got != tc.want {
			t.Fatalf("%s: Decode = %q, %v; want %q", tc.policy, got, err, tc.want)
		}
	}

	strict, err := charset.New("utf-16le", charset.Strict)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, err := strict.Decode(input[:4]); err != nil || got != "h\uFFFD" {
		t.Fatalf("strict valid input: Decode = %q, %v", got, err)
	}
	_, err = strict.Decode(input)
	if !errors.Is(err, ingesterr.ErrCorruptMember) {
		t.Fatalf("expected corrupt member for lone surrogate, got %v", err)
	}
	if !strings.Contains(err.Error(), "byte 4") {
		t.Fatalf("expected offset of the invalid unit, got %v", err)
	}
}

func TestNewRejectsUnknownInputs(t *testing.T) {
	if _, err := charset.New("klingon-8", charset.Ignore); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
	if _, err := charset.New("utf-8", "lenient"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
