package ledger

// Tier is the caller-declared entitlement tier. The ledger does not decide
// entitlements, but it enforces the free-tier clamps defensively even when
// the caller forgot to.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Free-tier ceilings.
const (
	freeMaxStrength = 5
	freeMaxTokens   = 1200
)

// Settings are the user's continuity preferences.
type Settings struct {
	InjectionStrength   int  `json:"injection_strength"` // 0-10
	Enabled             bool `json:"enabled"`
	IsolationMode       bool `json:"isolation_mode"` // per-source memory
	CrossSourceInsights bool `json:"cross_source_insights"`
	MaxContextTokens    int  `json:"max_context_tokens"`
	CompressionLevel    int  `json:"compression_level"` // 1=light, 2=medium, 3=aggressive
}

// DefaultSettings mirror a fresh install.
func DefaultSettings() Settings {
	return Settings{
		InjectionStrength:   5,
		Enabled:             true,
		IsolationMode:       false,
		CrossSourceInsights: true,
		MaxContextTokens:    2000,
		CompressionLevel:    2,
	}
}

// clampForTier forces the free-tier ceilings: isolation and cross-source
// insights off, strength and token budget capped.
func (s *Settings) clampForTier(tier Tier) {
	if tier == TierPremium {
		return
	}
	s.IsolationMode = false
	s.CrossSourceInsights = false
	if s.InjectionStrength > freeMaxStrength {
		s.InjectionStrength = freeMaxStrength
	}
	if s.MaxContextTokens > freeMaxTokens {
		s.MaxContextTokens = freeMaxTokens
	}
}

// Update is a partial settings change; nil fields are left untouched.
type Update struct {
	InjectionStrength   *int  `json:"injection_strength,omitempty"`
	Enabled             *bool `json:"enabled,omitempty"`
	IsolationMode       *bool `json:"isolation_mode,omitempty"`
	CrossSourceInsights *bool `json:"cross_source_insights,omitempty"`
	MaxContextTokens    *int  `json:"max_context_tokens,omitempty"`
	CompressionLevel    *int  `json:"compression_level,omitempty"`
}

// apply merges the update into the settings and re-clamps for the tier.
func (s *Settings) apply(u Update, tier Tier) {
	if u.InjectionStrength != nil {
		s.InjectionStrength = clampInt(*u.InjectionStrength, 0, 10)
	}
	if u.Enabled != nil {
		s.Enabled = *u.Enabled
	}
	if u.IsolationMode != nil {
		s.IsolationMode = *u.IsolationMode
	}
	if u.CrossSourceInsights != nil {
		s.CrossSourceInsights = *u.CrossSourceInsights
	}
	if u.MaxContextTokens != nil {
		s.MaxContextTokens = clampInt(*u.MaxContextTokens, 0, 100000)
	}
	if u.CompressionLevel != nil {
		s.CompressionLevel = clampInt(*u.CompressionLevel, 1, 3)
	}
	s.clampForTier(tier)
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
