package engine

// OutcomeInput is everything the analyzer is allowed to look at. The
// function is pure: same input, same verdict, no side effects.
type OutcomeInput struct {
	Intent           IntentKey
	Method           DecisionMethod
	Session          Session
	TurnCount        int
	Domain           BusinessDomain
	AbandonThreshold int
}

const defaultAbandonThreshold = 10

// DeriveOutcome decides whether the session reached a terminal business
// outcome. Rules are evaluated in order; the first match wins. A nil result
// means the session stays open.
func DeriveOutcome(in OutcomeInput) *OutcomeResult {
	threshold := in.AbandonThreshold
	if threshold <= 0 {
		threshold = defaultAbandonThreshold
	}

	// 1. Explicit terminal intents.
	switch in.Intent {
	case IntentConfirm:
		return &OutcomeResult{Value: OutcomeBookingConfirmed, Reason: "user confirmed the appointment", Terminal: true}
	case IntentCancel:
		return &OutcomeResult{Value: OutcomeAppointmentCancelled, Reason: "user asked to cancel", Terminal: true}
	case IntentReschedule:
		return &OutcomeResult{Value: OutcomeAppointmentRebooked, Reason: "user asked to reschedule", Terminal: true}
	case IntentGoodbye:
		return &OutcomeResult{Value: OutcomeConversationEnded, Reason: "user said goodbye", Terminal: true}
	}

	// 2. Completed flow maps to an outcome for that flow type.
	if in.Session.FlowCompleted {
		switch in.Session.CurrentFlow {
		case FlowBooking:
			return &OutcomeResult{Value: OutcomeBookingConfirmed, Reason: "booking flow completed", Terminal: true}
		case FlowCancel:
			return &OutcomeResult{Value: OutcomeAppointmentCancelled, Reason: "cancellation flow completed", Terminal: true}
		case FlowReschedule:
			return &OutcomeResult{Value: OutcomeAppointmentRebooked, Reason: "reschedule flow completed", Terminal: true}
		}
	}

	// 3. Long conversation that never entered a flow.
	if in.TurnCount > threshold && in.Session.CurrentFlow == FlowNone {
		return &OutcomeResult{Value: OutcomeConversationAbandoned, Reason: "turn threshold exceeded with no active flow"}
	}

	// 4. Tenant-domain-specific rules.
	return deriveDomainOutcome(in)
}

func deriveDomainOutcome(in OutcomeInput) *OutcomeResult {
	switch in.Domain {
	case DomainHealthcare:
		// Clinical questions go to a human; the assistant never answers them.
		if in.Intent == IntentHumanHandoff {
			return &OutcomeResult{Value: OutcomeEscalatedToHuman, Reason: "healthcare tenant: handed to staff", Terminal: true}
		}
	case DomainLegal:
		if in.Intent == IntentHumanHandoff {
			return &OutcomeResult{Value: OutcomeEscalatedToHuman, Reason: "legal tenant: handed to attorney", Terminal: true}
		}
		// Interest in services or pricing after a real exchange counts as a
		// consultation request for law practices.
		if (in.Intent == IntentServices || in.Intent == IntentPricing) && in.TurnCount >= 3 {
			return &OutcomeResult{Value: OutcomeConsultationRequested, Reason: "legal tenant: engaged prospect", Terminal: true}
		}
	case DomainBeauty, DomainEducation, DomainGeneral, "":
		if in.Intent == IntentHumanHandoff {
			return &OutcomeResult{Value: OutcomeEscalatedToHuman, Reason: "handed to staff", Terminal: true}
		}
	}
	return nil
}
