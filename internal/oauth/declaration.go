package oauth

import (
	"fmt"
	"time"
)

// DefaultExpiryBuffer is how long an access token must remain valid before it
// is handed out without a refresh.
const DefaultExpiryBuffer = 5 * time.Minute

// Declaration defines the refresh-token contract of a provider.
type Declaration struct {
	Provider     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	UserAgent    string
}

func (d Declaration) Validate() error {
	if d.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if d.TokenURL == "" {
		return fmt.Errorf("tokenURL is required")
	}
	if d.ClientID == "" {
		return fmt.Errorf("clientID is required")
	}
	return nil
}
