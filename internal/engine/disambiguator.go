package engine

import (
	"regexp"
	"strings"
)

// Disambiguator is the last layer of the cascade. When both the pattern
// matcher and the inference resolver come up empty, it asks the user to pick
// from a small fixed menu and resolves the answer on the next turn.
type Disambiguator struct {
	matcher *PatternMatcher
}

func NewDisambiguator(matcher *PatternMatcher) *Disambiguator {
	if matcher == nil {
		matcher = NewPatternMatcher()
	}
	return &Disambiguator{matcher: matcher}
}

const clarificationMenu = `1. Serviços
2. Preços
3. Horários disponíveis
4. Meus agendamentos
5. Endereço
6. Formas de pagamento
7. Horário de funcionamento
8. Políticas de cancelamento`

// answerRule maps a fixed answer vocabulary entry to a top-level intent.
// Menu numbers and the option words themselves are both accepted.
type answerRule struct {
	intent IntentKey
	re     *regexp.Regexp
}

var answerRules = []answerRule{
	{IntentServices, regexp.MustCompile(`^1$|\bservicos?\b`)},
	{IntentPricing, regexp.MustCompile(`^2$|\bprecos?\b|\bvalor(es)?\b`)},
	{IntentAvailability, regexp.MustCompile(`^3$|\bhorarios? disponive|\bdisponibilidade\b`)},
	{IntentMyAppointments, regexp.MustCompile(`^4$|\bmeus agendamentos\b|\bminhas consultas\b`)},
	{IntentAddress, regexp.MustCompile(`^5$|\bendereco\b|\blocalizacao\b`)},
	{IntentPayments, regexp.MustCompile(`^6$|\bpagamentos?\b`)},
	{IntentHours, regexp.MustCompile(`^7$|\bfuncionamento\b`)},
	{IntentPolicies, regexp.MustCompile(`^8$|\bpoliticas?\b|\bcancelamento\b`)},
}

// AskClarification returns the deterministic menu question. The wording
// shifts slightly on repeated attempts so the user does not see the exact
// same message twice in a row.
func (d *Disambiguator) AskClarification(attempt int) string {
	if attempt <= 0 {
		return "Desculpe, não entendi bem. 🤔 Posso te ajudar com uma dessas opções?\n\n" +
			clarificationMenu + "\n\nÉ só responder com o número ou o nome da opção."
	}
	return "Ainda não consegui entender. 🙏 Me diz o número de uma das opções abaixo:\n\n" +
		clarificationMenu
}

// ResolveAnswer matches the user's free-text reply against the fixed answer
// vocabulary and, failing that, re-runs the full pattern set.
func (d *Disambiguator) ResolveAnswer(text string) (IntentKey, bool) {
	normalized := Normalize(text)
	if normalized == "" {
		return "", false
	}

	trimmed := strings.TrimRight(normalized, ".!?")
	for _, rule := range answerRules {
		if rule.re.MatchString(trimmed) {
			return rule.intent, true
		}
	}

	return d.matcher.Best(normalized)
}
