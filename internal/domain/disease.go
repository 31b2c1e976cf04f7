package domain

// Disease is a catalog entry the simulation can target.
type Disease struct {
	ID          string
	Name        string
	Description string
	Department  string
	Symptoms    []string
}

// Profile is a synthesized patient profile. Its shape is owned by the reasoning capability.
type Profile map[string]any

// MatchResult is the verdict comparing the service diagnosis with the expected disease.
type MatchResult struct {
	DiagnosedDisease string  `json:"diagnosed_disease"`
	IsMatch          bool    `json:"is_match"`
	MatchScore       float64 `json:"match_score"`
	Analysis         string  `json:"analysis"`
}

// DialogSummary is the output of the dialog step.
type DialogSummary struct {
	TotalRounds int    `json:"total_rounds"`
	Status      string `json:"status"`
}
