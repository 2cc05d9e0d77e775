package engine

import "testing"

func TestPatternMatcherBasics(t *testing.T) {
	m := NewPatternMatcher()

	tests := []struct {
		name string
		text string
		want IntentKey
	}{
		{"greeting", "oi", IntentHello},
		{"greeting with accent", "olá, tudo bem?", IntentHello},
		{"thanks", "obrigada!", IntentThanks},
		{"pricing", "quero ver preços", IntentPricing},
		{"pricing english", "how much is a session?", IntentPricing},
		{"cancel", "quero cancelar", IntentCancel},
		{"reschedule", "preciso remarcar minha sessão", IntentReschedule},
		{"availability", "tem horário livre amanhã?", IntentAvailability},
		{"hours", "qual o horário de funcionamento?", IntentHours},
		{"my appointments", "quais são meus agendamentos?", IntentMyAppointments},
		{"address", "onde fica a clínica?", IntentAddress},
		{"payments", "vocês aceitam pix?", IntentPayments},
		{"human handoff", "quero falar com um atendente", IntentHumanHandoff},
		{"identity", "você é um robô?", IntentIdentity},
		{"goodbye", "tchau, era só isso", IntentGoodbye},
		{"booking", "quero marcar uma consulta", IntentBooking},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Best(tt.text)
			if !ok {
				t.Fatalf("expected a match for %q", tt.text)
			}
			if got != tt.want {
				t.Errorf("Best(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestPatternMatcherMiss(t *testing.T) {
	m := NewPatternMatcher()

	for _, text := range []string{"me ajuda", "xyzzy", "", "   "} {
		if matches := m.Match(text); len(matches) != 0 {
			t.Errorf("expected no match for %q, got %v", text, matches)
		}
	}
}

func TestPatternMatcherSpecificityOrdering(t *testing.T) {
	m := NewPatternMatcher()

	// "cancelamento gratis" belongs to policies even though it shares a stem
	// with the cancel intent.
	got, ok := m.Best("o cancelamento grátis vale até quando?")
	if !ok || got != IntentPolicies {
		t.Fatalf("expected policies, got %s / %v", got, ok)
	}

	// Multiple hits are returned ordered by specificity.
	matches := m.Match("bom dia, quanto custa e qual o horário de funcionamento?")
	if len(matches) < 2 {
		t.Fatalf("expected multiple matches, got %v", matches)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i-1].Specificity < matches[i].Specificity {
			t.Errorf("matches out of order: %v", matches)
		}
	}
	if matches[0].Intent != IntentHours {
		t.Errorf("longest match should win, got %s", matches[0].Intent)
	}
}

func TestPatternMatcherIsPure(t *testing.T) {
	m := NewPatternMatcher()
	first := m.Match("quero ver preços")
	second := m.Match("quero ver preços")

	if len(first) != len(second) || first[0] != second[0] {
		t.Errorf("repeated calls should be identical: %v vs %v", first, second)
	}
}
