package rules

import "github.com/trailpass/platform/internal/domain"

// Status is the outcome of evaluating one candidate reward.
type Status string

const (
	StatusGranted Status = "granted"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Skip reasons.
const (
	ReasonAlreadyGranted  = "already_granted"
	ReasonConditionNotMet = "condition_not_met"
	ReasonQualityTooLow   = "quality_below_minimum"
)

// CandidateResult is the outcome for one candidate reward.
type CandidateResult struct {
	RewardIdentifier string
	Status           Status
	Reason           string
	Err              error
	XPAwarded        int64
	EPAwarded        int64
	Grant            *domain.Grant
}

// Summary collects candidate outcomes for one evaluation.
type Summary struct {
	Results   []CandidateResult
	Granted   []string
	XPAwarded int64
	EPAwarded int64
}

func (s *Summary) add(r CandidateResult) {
	s.Results = append(s.Results, r)
	if r.Status == StatusGranted {
		s.Granted = append(s.Granted, r.RewardIdentifier)
		s.XPAwarded += r.XPAwarded
		s.EPAwarded += r.EPAwarded
	}
}

// Merge appends another summary's results.
func (s *Summary) Merge(o *Summary) {
	if o == nil {
		return
	}
	for _, r := range o.Results {
		s.add(r)
	}
}

// Failed returns the candidates that failed with a storage error.
func (s *Summary) Failed() []CandidateResult {
	var out []CandidateResult
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}
