package signal

const (
	TierPreliminary = "preliminary"
	TierDeveloping  = "developing"
	TierSolid       = "solid"
)

// ConfidenceTier labels how much signal volume backs a score.
func ConfidenceTier(signalCount int) string {
	switch {
	case signalCount >= 15:
		return TierSolid
	case signalCount >= 5:
		return TierDeveloping
	default:
		return TierPreliminary
	}
}
