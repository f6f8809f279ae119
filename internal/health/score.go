// Package health computes the composite community health score. The
// engine is pure: given a fully-populated Inputs snapshot it performs no
// I/O, which keeps it independently testable.
package health

// Inputs is the snapshot the score is computed from. Rollup-derived
// fields come from the stats reader; roster facts come from the origin
// platform's guild metadata.
type Inputs struct {
	MemberCount    int
	ModeratorCount int

	// Safety posture.
	VerificationLevel int // platform scale 0-4
	ExplicitFilter    int // platform scale 0-2
	ModTwoFactor      bool

	// Engagement.
	DAU           int64
	TotalMessages int64
	ReplyMessages int64
	VoiceMinutes  float64 // average voice minutes per active user per day

	// Moderation activity over the trailing 30 days.
	ModActions int
}

// Score is the composite result with its four equally-weighted
// sub-scores, each in [0, 100].
type Score struct {
	Composite  float64 `json:"composite"`
	TeamRatio  float64 `json:"team_ratio"`
	Safety     float64 `json:"safety"`
	Engagement float64 `json:"engagement"`
	Moderation float64 `json:"moderation"`
}

// Ideal members-per-moderator band. Staffing outside the band is
// penalized symmetrically in both directions.
const (
	ratioBandLow  = 50.0
	ratioBandHigh = 100.0
)

// Target moderation-actions-per-100-members band. Too few suggests
// under-moderation, too many a problem community.
const (
	modBandLow  = 1.0
	modBandHigh = 5.0
)

// Engagement normalization targets. Hitting the target earns the full
// sub-score; anything above is capped, not rewarded further.
const (
	targetParticipation = 0.20 // fraction of members active per day
	targetReplyRatio    = 0.50 // fraction of messages that are replies
	targetVoiceMinutes  = 30.0 // per active user per day
)

// Compute derives the composite score and its four components.
func Compute(in Inputs) Score {
	s := Score{
		TeamRatio:  teamRatioScore(in),
		Safety:     safetyScore(in),
		Engagement: engagementScore(in),
		Moderation: moderationScore(in),
	}
	s.Composite = (s.TeamRatio + s.Safety + s.Engagement + s.Moderation) / 4
	return s
}

// Band maps a score onto its presentation band.
func Band(score float64) string {
	switch {
	case score > 80:
		return "excellent"
	case score > 60:
		return "good"
	case score > 40:
		return "average"
	default:
		return "low"
	}
}

func teamRatioScore(in Inputs) float64 {
	if in.MemberCount <= 0 || in.ModeratorCount <= 0 {
		return 0
	}
	ratio := float64(in.MemberCount) / float64(in.ModeratorCount)
	switch {
	case ratio >= ratioBandLow && ratio <= ratioBandHigh:
		return 100
	case ratio < ratioBandLow:
		// Overstaffed: falls off toward 0 as the ratio approaches 0.
		return clamp(ratio / ratioBandLow * 100)
	default:
		// Understaffed: falls off as the ratio grows past the band.
		return clamp(ratioBandHigh / ratio * 100)
	}
}

func safetyScore(in Inputs) float64 {
	verification := float64(clampInt(in.VerificationLevel, 0, 4)) * 15 // up to 60
	filter := float64(clampInt(in.ExplicitFilter, 0, 2)) * 10          // up to 20
	twoFA := 0.0
	if in.ModTwoFactor {
		twoFA = 20
	}
	return clamp(verification + filter + twoFA)
}

func engagementScore(in Inputs) float64 {
	var participation float64
	if in.MemberCount > 0 {
		participation = float64(in.DAU) / float64(in.MemberCount)
	}
	var replyRatio float64
	if in.TotalMessages > 0 {
		replyRatio = float64(in.ReplyMessages) / float64(in.TotalMessages)
	}

	pScore := clamp(participation / targetParticipation * 100)
	rScore := clamp(replyRatio / targetReplyRatio * 100)
	vScore := clamp(in.VoiceMinutes / targetVoiceMinutes * 100)

	return (pScore + rScore + vScore) / 3
}

func moderationScore(in Inputs) float64 {
	if in.MemberCount <= 0 {
		return 0
	}
	per100 := float64(in.ModActions) / float64(in.MemberCount) * 100
	switch {
	case per100 >= modBandLow && per100 <= modBandHigh:
		return 100
	case per100 < modBandLow:
		return clamp(per100 / modBandLow * 100)
	default:
		return clamp(modBandHigh / per100 * 100)
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
