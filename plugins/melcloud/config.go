package melcloud

import (
	"fmt"
	"time"

	"github.com/joshp123/gohome-melcloud/internal/config"
	"github.com/joshp123/gohome-melcloud/internal/oauth"
	"github.com/joshp123/gohome-melcloud/internal/rate"
)

const (
	providerName = "melcloud"

	// The mobile app authenticates as a public client.
	clientID = "homemobile"
)

// Config defines runtime configuration for the MELCloud plugin.
type Config struct {
	RefreshToken       string
	TokenURL           string
	BaseURL            string
	UserAgent          string
	PollInterval       time.Duration
	Debug              bool
	FanSpeedButtons    bool
	VaneButtons        bool
	RateLimitPerMinute int
	RateLimitPerDay    int
}

func ConfigFromFile(cfg *config.MELCloudConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("melcloud config is required")
	}
	token, err := cfg.ResolveRefreshToken()
	if err != nil {
		return Config{}, err
	}
	return Config{
		RefreshToken:       token,
		TokenURL:           cfg.TokenURL,
		BaseURL:            cfg.BaseURL,
		UserAgent:          cfg.UserAgent,
		PollInterval:       cfg.PollInterval(),
		Debug:              cfg.Debug,
		FanSpeedButtons:    cfg.FanSpeedButtons,
		VaneButtons:        cfg.VaneButtons,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitPerDay:    cfg.RateLimitPerDay,
	}, nil
}

// OAuthDeclaration describes the token endpoint of the account.
func (c Config) OAuthDeclaration() oauth.Declaration {
	return oauth.Declaration{
		Provider:  providerName,
		TokenURL:  c.TokenURL,
		ClientID:  clientID,
		UserAgent: c.UserAgent,
	}
}

// RateLimits is the local request budget for the cloud API.
func (c Config) RateLimits() rate.Declaration {
	decl := rate.Provider(providerName).ReadHeaders(rate.StandardHeaders())
	if c.RateLimitPerMinute > 0 {
		decl = decl.MaxRequestsPer(rate.Minute, c.RateLimitPerMinute)
	}
	if c.RateLimitPerDay > 0 {
		decl = decl.MaxRequestsPer(rate.Day, c.RateLimitPerDay)
	}
	return decl
}
