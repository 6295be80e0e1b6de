// Package credit decides whether a batch may start given the caller's
// credit balance. The batch engine itself has no knowledge of credits;
// the HTTP layer consults this gate before invoking the engine.
package credit

// Sufficiency is the outcome of a credit check.
type Sufficiency struct {
	Sufficient     bool `json:"sufficient"`
	Available      int  `json:"available"`
	Required       int  `json:"required"`
	Remaining      int  `json:"remaining"`
	Shortage       int  `json:"shortage"`
	MaxProcessable int  `json:"max_processable"`
}

// Check reports whether a balance covers the required credits. Premium
// tier accounts are always sufficient and unmetered: MaxProcessable
// equals the requested amount and no shortage is reported.
func Check(balance, required int, premium bool) Sufficiency {
	if premium {
		return Sufficiency{
			Sufficient:     true,
			Available:      balance,
			Required:       required,
			Remaining:      balance,
			MaxProcessable: required,
		}
	}

	s := Sufficiency{
		Available:      balance,
		Required:       required,
		MaxProcessable: balance,
	}
	if balance < 0 {
		s.MaxProcessable = 0
	}

	if balance >= required {
		s.Sufficient = true
		s.Remaining = balance - required
	} else {
		s.Shortage = required - balance
	}
	return s
}
