package archive

import (
	"strings"
	"testing"
)

func TestScrubPIIEmail(t *testing.T) {
	got := ScrubPII("meu email é maria.silva+spam@example.com.br, obrigada")
	if strings.Contains(got, "maria.silva") {
		t.Fatalf("email not scrubbed: %q", got)
	}
	if !strings.Contains(got, "[EMAIL]") {
		t.Fatalf("expected [EMAIL] marker: %q", got)
	}
}

func TestScrubPIIPhones(t *testing.T) {
	cases := []string{
		"me liga no +55 (11) 99999-0000",
		"meu número é +5511999990000",
		"call me at (415) 555-2671",
		"call me at 415-555-2671",
	}
	for _, in := range cases {
		got := ScrubPII(in)
		if !strings.Contains(got, "[PHONE]") {
			t.Errorf("phone not scrubbed in %q -> %q", in, got)
		}
	}
}

func TestScrubPIIKeepsPlainText(t *testing.T) {
	in := "quero marcar um horário amanhã às 10h"
	if got := ScrubPII(in); got != in {
		t.Fatalf("plain text mutated: %q", got)
	}
}

func TestHashAddressStable(t *testing.T) {
	a := HashAddress("+5511999990000")
	b := HashAddress("+5511999990000")
	if a != b {
		t.Fatal("hash not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex, got %d chars", len(a))
	}
	if a == HashAddress("+5511999990001") {
		t.Fatal("distinct addresses should not collide")
	}
}

func TestScrubTurns(t *testing.T) {
	turns := []TurnRecord{
		{Role: "user", Text: "mando pro joao@example.com"},
		{Role: "assistant", Text: "anotado"},
	}
	ScrubTurns(turns)
	if strings.Contains(turns[0].Text, "joao@") {
		t.Fatalf("turn not scrubbed: %q", turns[0].Text)
	}
	if turns[1].Text != "anotado" {
		t.Fatalf("clean turn mutated: %q", turns[1].Text)
	}
}
