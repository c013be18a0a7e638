package main

// Classify maps a probe outcome onto a health state and decides whether the
// check produces a TransitionEvent. It has no side effects.
//
// The returned event carries only the state change fields; the caller attaches
// the monitor and persisted CheckResult.
func Classify(previous HealthState, result ProbeResult) (HealthState, *TransitionEvent) {
	next := StateDown
	switch {
	case result.ErrorKind == ErrorKindInvalidURL || result.ErrorKind == ErrorKindInternal:
		next = StateError
	case result.OK:
		next = StateUp
	}

	if previous == StatePending || previous == "" || previous != next {
		return next, &TransitionEvent{
			Previous: previous,
			Next:     next,
			Kind:     EventKindStateChange,
			Severity: severityFor(next),
		}
	}

	if next == StateUp && result.TLS != nil && result.TLS.DaysUntilExpiry < certificateWarningDays {
		return next, &TransitionEvent{
			Previous: previous,
			Next:     next,
			Kind:     EventKindCertificateExpiring,
			Severity: SeverityWarning,
		}
	}

	return next, nil
}

func severityFor(state HealthState) Severity {
	switch state {
	case StateUp:
		return SeveritySuccess
	case StateDown, StateError:
		return SeverityError
	default:
		return SeverityInfo
	}
}
