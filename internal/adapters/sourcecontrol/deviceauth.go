package sourcecontrol

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/giquina/clawd-bot/internal/config"
)

// DeviceAuth drives GitHub's OAuth device-authorization flow so a chat user
// can link their GitHub account without ever pasting a token into a chat
// message — grounded on the same token-exchange shape the LLM provider
// package uses for Copilot's device flow, generalized to oauth2's built-in
// device-grant support.
type DeviceAuth struct {
	oauthCfg *oauth2.Config
}

func NewDeviceAuth(cfg config.SourceControl) *DeviceAuth {
	return &DeviceAuth{
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"repo", "workflow"},
		},
	}
}

// DeviceCode starts the flow: the returned code's VerificationURI and
// UserCode are what the bot shows the user ("go to github.com/login/device
// and enter ABCD-1234").
func (d *DeviceAuth) DeviceCode(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	resp, err := d.oauthCfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("start device authorization: %w", err)
	}
	return resp, nil
}

// Poll blocks (per the DeviceAuthResponse's polling interval) until the user
// approves the device code or it expires, returning the resulting token.
func (d *DeviceAuth) Poll(ctx context.Context, code *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	tok, err := d.oauthCfg.DeviceAccessToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("poll device token: %w", err)
	}
	return tok, nil
}
