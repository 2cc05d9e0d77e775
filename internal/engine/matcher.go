package engine

import (
	"regexp"
	"sort"
)

// IntentMatch is one pattern hit, ordered by specificity.
type IntentMatch struct {
	Intent      IntentKey
	Matched     string
	Specificity int
}

type patternRule struct {
	intent IntentKey
	re     *regexp.Regexp
}

// PatternMatcher is the deterministic first layer of the cascade. It runs on
// normalized text, never calls out, and never fails; a miss is an empty slice.
type PatternMatcher struct {
	rules []patternRule
}

// Vocabulary mixes Portuguese and English because inbound channels carry
// both. Patterns assume Normalize() already ran (no diacritics, lowercase).
var defaultPatternTable = []struct {
	intent IntentKey
	exprs  []string
}{
	{IntentMyAppointments, []string{
		`\b(meus (agendamentos|horarios)|minhas? consultas?|meu horario marcado|my appointments?)\b`,
	}},
	{IntentPolicies, []string{
		`\b(politicas? (de cancelamento|de reembolso)?|regras (da casa|de agendamento)|reembolso|cancelamento gratis|cancellation policy|refund)\b`,
	}},
	{IntentReschedule, []string{
		`\b(remarcar|reagendar|mudar (o |meu )?horario|trocar (o |meu )?horario|reschedule)\b`,
	}},
	{IntentCancel, []string{
		`\b(cancelar|desmarcar|quero cancelar|cancel( my appointment)?)\b`,
	}},
	{IntentConfirm, []string{
		`\b(confirmo|confirmad[oa]|pode confirmar|sim,? (pode|quero|confirmo)|confirm(ed)?)\b`,
	}},
	{IntentBooking, []string{
		`\b(agendar|marcar (um |uma )?(horario|consulta|sessao|avaliacao)?|quero (um )?horario|book( an)? appointment|schedule)\b`,
	}},
	{IntentAvailability, []string{
		`\b(horarios? (livres?|disponiveis?|vagos?)|disponibilidade|tem (vaga|horario|agenda)|agenda (livre|aberta)|availability|available (times|slots))\b`,
	}},
	{IntentHours, []string{
		`\b(horario de (funcionamento|atendimento)|que horas (abre|fecha)|ate que horas|abre (hoje|amanha|sabado|domingo)|opening hours|business hours)\b`,
	}},
	{IntentPricing, []string{
		`\b(precos?|valor(es)?|quanto (custa|fica|e|sai)|tabela de precos?|price|pricing|how much)\b`,
	}},
	{IntentServices, []string{
		`\b(servicos?|procedimentos?|tratamentos?|o que voces (fazem|oferecem)|quais (servicos|procedimentos)|services|treatments)\b`,
	}},
	{IntentPayments, []string{
		`\b(pagamentos?|formas de pagamento|aceitam? (pix|cartao|dinheiro)|parcelar?|payment( methods)?)\b`,
	}},
	{IntentAddress, []string{
		`\b(enderecos?|onde (fica|ficam|voces ficam|e a clinica)|localizacao|como chegar|address|where are you( located)?)\b`,
	}},
	{IntentHumanHandoff, []string{
		`\b(falar com (um |uma )?(atendente|humano|pessoa|alguem)|atendimento humano|quero um humano|talk to a (human|person|agent))\b`,
	}},
	{IntentIdentity, []string{
		`\b(quem (e|sao) voces?|voce e (um )?(robo|bot|atendente)|isso e um robo|are you a (bot|robot|human))\b`,
	}},
	{IntentGoodbye, []string{
		`\b(tchau|ate (mais|logo|breve)|adeus|encerrar|era so isso|bye|goodbye)\b`,
	}},
	{IntentThanks, []string{
		`\b(obrigad[oa]|brigad[oa]|valeu|agradecid[oa]|thanks|thank you)\b`,
	}},
	{IntentHello, []string{
		`\b(oi+|ola|opa|bom dia|boa tarde|boa noite|hello|hi|hey)\b`,
	}},
}

// NewPatternMatcher compiles the default intent vocabulary.
func NewPatternMatcher() *PatternMatcher {
	m := &PatternMatcher{}
	for _, entry := range defaultPatternTable {
		for _, expr := range entry.exprs {
			m.rules = append(m.rules, patternRule{
				intent: entry.intent,
				re:     regexp.MustCompile(expr),
			})
		}
	}
	return m
}

// Match returns every intent whose pattern hits the text, most specific
// first. Specificity is the length of the matched span, so the longest and
// most constrained pattern wins; ties break by declaration order.
func (m *PatternMatcher) Match(text string) []IntentMatch {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	var matches []IntentMatch
	seen := make(map[IntentKey]bool)
	for _, rule := range m.rules {
		loc := rule.re.FindString(normalized)
		if loc == "" {
			continue
		}
		if seen[rule.intent] {
			continue
		}
		seen[rule.intent] = true
		matches = append(matches, IntentMatch{
			Intent:      rule.intent,
			Matched:     loc,
			Specificity: len(loc),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Specificity > matches[j].Specificity
	})
	return matches
}

// Best returns the winning intent, if any.
func (m *PatternMatcher) Best(text string) (IntentKey, bool) {
	matches := m.Match(text)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0].Intent, true
}
