// Package classifier maps a rendered page to a task outcome using an ordered
// table of marker rules. The first rule that matches wins.
package classifier

// Rules is the marker table. Location markers are matched against the
// resolved URL; content markers against the page title and body. All matching
// is case-insensitive substring matching.
type Rules struct {
	AuthWallLocations      []string `mapstructure:"auth_wall_locations"`
	RateLimitMarkers       []string `mapstructure:"rate_limit_markers"`
	AlreadyEntitledMarkers []string `mapstructure:"already_entitled_markers"`
	UnavailableMarkers     []string `mapstructure:"unavailable_markers"`
	OfferMarkers           []string `mapstructure:"offer_markers"`
	ActionMarkers          []string `mapstructure:"action_markers"`
	OfferPathHints         []string `mapstructure:"offer_path_hints"`
	LandingLocations       []string `mapstructure:"landing_locations"`
}

// DefaultRules returns the markers for LinkedIn Premium gift links.
func DefaultRules() Rules {
	return Rules{
		AuthWallLocations: []string{"/authwall", "/login", "/uas/login", "/checkpoint"},
		RateLimitMarkers: []string{
			"security verification",
			"are you a human",
			"too many requests",
			"unusual activity",
			"captcha",
		},
		AlreadyEntitledMarkers: []string{
			"already a premium member",
			"you're already a premium",
			"your premium subscription is active",
		},
		UnavailableMarkers: []string{
			"offer is no longer available",
			"this offer has expired",
			"sorry, this offer isn't available",
			"link has expired",
			"already been redeemed",
		},
		OfferMarkers: []string{
			"try premium for free",
			"start your free month",
			"free trial",
			"claim your gift",
			"redeem your gift",
			"activate your gift",
		},
		ActionMarkers:    []string{"start free trial", "try now", "redeem", "activate", "claim"},
		OfferPathHints:   []string{"/redeem", "/gift", "/claim", "/premium/offer"},
		LandingLocations: []string{"/feed"},
	}
}
