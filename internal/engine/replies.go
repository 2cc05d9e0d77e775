package engine

import (
	"fmt"
	"strings"
)

// replyTable maps each resolved intent to the outbound text. Replies are
// Portuguese because that is the production customer base; tenant-specific
// copy comes later through TenantConfig overrides.
var replyTable = map[IntentKey]string{
	IntentHello:          "Olá! Sou a assistente virtual de %s. Como posso ajudar?",
	IntentThanks:         "De nada! Precisa de mais alguma coisa?",
	IntentIdentity:       "Sou a assistente virtual de %s. Posso ajudar com agendamentos, preços e informações.",
	IntentServices:       "Oferecemos os seguintes serviços. Quer que eu detalhe algum deles?",
	IntentPricing:        "Claro! Me diga qual serviço você tem interesse e eu te passo os valores.",
	IntentAvailability:   "Temos horários disponíveis esta semana. Qual dia funciona melhor para você?",
	IntentBooking:        "Perfeito, vamos agendar! Qual serviço você gostaria de marcar?",
	IntentCancel:         "Sem problemas, seu agendamento foi cancelado. Se quiser remarcar é só avisar.",
	IntentConfirm:        "Confirmado! Você vai receber um lembrete antes do horário.",
	IntentReschedule:     "Claro, vamos remarcar. Qual novo dia e horário funcionam para você?",
	IntentMyAppointments: "Deixa eu verificar seus próximos agendamentos.",
	IntentAddress:        "Nosso endereço está no nosso perfil. Quer que eu envie a localização?",
	IntentPayments:       "Aceitamos cartão, Pix e dinheiro.",
	IntentHours:          "Atendemos de segunda a sábado. Quer agendar um horário?",
	IntentPolicies:       "Cancelamentos com até 24h de antecedência não têm custo. Posso ajudar com mais alguma coisa?",
	IntentHumanHandoff:   "Claro, vou te transferir para um atendente. Um momento, por favor.",
	IntentGoodbye:        "Obrigada pelo contato! Até logo.",
}

const fallbackReply = "Estamos com uma instabilidade no momento. Pode tentar de novo em instantes?"

// ReplyFor builds the outbound text for a resolved intent.
func ReplyFor(intent IntentKey, tenant TenantConfig) string {
	text, ok := replyTable[intent]
	if !ok {
		return fallbackReply
	}
	if strings.Contains(text, "%s") {
		name := tenant.DisplayName
		if name == "" {
			name = "nossa equipe"
		}
		return fmt.Sprintf(text, name)
	}
	return text
}
