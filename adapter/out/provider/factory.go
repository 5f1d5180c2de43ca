package provider

import (
	"fmt"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	gcal "google.golang.org/api/calendar/v3"

	"tminus/core/domain"
	"tminus/core/port/out"
)

// FactoryConfig bundles the per-provider OAuth and webhook settings needed
// to construct each CalendarProviderPort implementation.
type FactoryConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleWebhookURL   string

	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string
	MicrosoftTenantID     string // "common" for multi-tenant
	MicrosoftWebhookURL   string

	CalDAVEndpoint string
}

// Factory resolves the CalendarProviderPort for an account's provider,
// building each adapter once and caching it.
type Factory struct {
	google    out.CalendarProviderPort
	microsoft out.CalendarProviderPort
	caldav    out.CalendarProviderPort
}

func NewFactory(cfg FactoryConfig) *Factory {
	f := &Factory{}

	if cfg.GoogleClientID != "" {
		f.google = NewGoogleCalendarAdapter(&oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes:       []string{gcal.CalendarScope},
			Endpoint:     oauthgoogle.Endpoint,
		}, cfg.GoogleWebhookURL)
	}

	if cfg.MicrosoftClientID != "" {
		tenant := cfg.MicrosoftTenantID
		if tenant == "" {
			tenant = "common"
		}
		f.microsoft = NewOutlookCalendarAdapter(&oauth2.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.MicrosoftRedirectURL,
			Scopes: []string{
				"https://graph.microsoft.com/Calendars.ReadWrite",
				"offline_access",
			},
			Endpoint: microsoft.AzureADEndpoint(tenant),
		}, cfg.MicrosoftWebhookURL)
	}

	if cfg.CalDAVEndpoint != "" {
		f.caldav = NewCalDAVAdapter(cfg.CalDAVEndpoint)
	}

	return f
}

// ForProvider implements out.CalendarProviderFactory.
func (f *Factory) ForProvider(provider string) (out.CalendarProviderPort, error) {
	switch domain.AccountProvider(provider) {
	case domain.AccountProviderGoogle:
		if f.google == nil {
			return nil, fmt.Errorf("provider: google adapter not configured")
		}
		return f.google, nil
	case domain.AccountProviderMicrosoft:
		if f.microsoft == nil {
			return nil, fmt.Errorf("provider: microsoft adapter not configured")
		}
		return f.microsoft, nil
	case domain.AccountProviderCalDAV:
		if f.caldav == nil {
			return nil, fmt.Errorf("provider: caldav adapter not configured")
		}
		return f.caldav, nil
	default:
		return nil, fmt.Errorf("provider: unsupported provider %q", provider)
	}
}

var _ out.CalendarProviderFactory = (*Factory)(nil)
