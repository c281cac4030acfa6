package types

import "time"

// CandidateState is the lifecycle state of a surge candidate.
//
// Transitions: DETECTED -> {APPROVED, REJECTED}; APPROVED -> {EXECUTED,
// REJECTED}. An approved candidate ends EXECUTED when its entry order fills,
// and REJECTED when sizing, risk authorization, submission, or the entry
// order itself fails.
type CandidateState string

const (
	CandidateDetected CandidateState = "DETECTED"
	CandidateApproved CandidateState = "APPROVED"
	CandidateRejected CandidateState = "REJECTED"
	CandidateExecuted CandidateState = "EXECUTED"
)

// SurgeCandidate is a symbol flagged by market scanning for abnormal
// price/volume behaviour, pending an admission decision.
//
// The whole struct is passed to approval callbacks as a single parameter so
// the decision and the order-sizing step that follows it always see one
// consistent view of the candidate.
type SurgeCandidate struct {
	CandidateID string         `json:"candidate_id"`
	Symbol      string         `json:"symbol"`
	Name        string         `json:"name"`
	DetectedAt  time.Time      `json:"detected_at"`
	Price       float64        `json:"price"`
	ChangeRate  float64        `json:"change_rate"`
	VolumeRatio float64        `json:"volume_ratio"`
	Score       float64        `json:"score"`
	State       CandidateState `json:"state"`
	Reason      string         `json:"reason,omitempty"`
}
