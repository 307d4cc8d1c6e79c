package security

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// WebConfig is the declarative security layout of an application.
type WebConfig struct {
	// Ignoring lists patterns that bypass security entirely.
	Ignoring       []string     `yaml:"ignoring"`
	StrictFirewall bool         `yaml:"strict_firewall"`
	Chains         []HTTPConfig `yaml:"chains"`
}

// HTTPConfig describes one filter chain.
type HTTPConfig struct {
	Name string `yaml:"name"`
	// Pattern selects the requests of the chain; empty or "/**" is any request.
	Pattern string   `yaml:"pattern"`
	Methods []string `yaml:"methods"`

	Authorize []AuthorizeRule `yaml:"authorize"`

	FormLogin         *FormLoginConfig         `yaml:"form_login"`
	Logout            *LogoutConfig            `yaml:"logout"`
	HTTPBasic         *HTTPBasicConfig         `yaml:"http_basic"`
	Bearer            *BearerConfig            `yaml:"bearer"`
	ClientCredentials *ClientCredentialsConfig `yaml:"client_credentials"`
	PreAuthenticated  *PreAuthenticatedConfig  `yaml:"pre_authenticated"`
	Anonymous         *AnonymousConfig         `yaml:"anonymous"`

	// Stateless chains neither read nor create sessions.
	Stateless bool `yaml:"stateless"`
	// EntryPoint is one of login, basic, bearer or forbidden. Empty picks
	// one from the configured authentication mechanisms.
	EntryPoint string `yaml:"entry_point"`
	// AccessDenied is status or oauth2.
	AccessDenied string `yaml:"access_denied"`
}

// AuthorizeRule maps request patterns to an access requirement, either an
// expression or a list of plain attributes.
type AuthorizeRule struct {
	Patterns   []string `yaml:"patterns"`
	Methods    []string `yaml:"methods"`
	Access     string   `yaml:"access"`
	Attributes []string `yaml:"attributes"`
}

type FormLoginConfig struct {
	LoginPage                  string `yaml:"login_page"`
	ProcessingURL              string `yaml:"processing_url"`
	FailureURL                 string `yaml:"failure_url"`
	DefaultSuccessURL          string `yaml:"default_success_url"`
	AlwaysUseDefaultSuccessURL bool   `yaml:"always_use_default_success_url"`
	UsernameParameter          string `yaml:"username_parameter"`
	PasswordParameter          string `yaml:"password_parameter"`
	OTPParameter               string `yaml:"otp_parameter"`
	PermitAll                  bool   `yaml:"permit_all"`
}

type LogoutConfig struct {
	URL               string   `yaml:"url"`
	SuccessURL        string   `yaml:"success_url"`
	DeleteCookies     []string `yaml:"delete_cookies"`
	InvalidateSession *bool    `yaml:"invalidate_session"`
	PermitAll         bool     `yaml:"permit_all"`
}

type HTTPBasicConfig struct {
	Realm string `yaml:"realm"`
	// Manager names the authentication manager, users or clients.
	Manager string `yaml:"manager"`
}

type BearerConfig struct {
	Realm               string `yaml:"realm"`
	ResourceID          string `yaml:"resource_id"`
	AllowQueryParameter bool   `yaml:"allow_query_parameter"`
}

type ClientCredentialsConfig struct {
	Endpoints []string `yaml:"endpoints"`
}

// PreAuthenticatedConfig trusts a principal named in a request header. Only
// enable it behind a proxy that strips the header from client requests.
type PreAuthenticatedConfig struct {
	PrincipalHeader string `yaml:"principal_header"`
	// AuthoritiesHeader is an optional comma separated authority list. It is
	// ignored when the manager loads authorities from the user store.
	AuthoritiesHeader string `yaml:"authorities_header"`
	// Manager names the authentication manager, users by default.
	Manager string `yaml:"manager"`
}

type AnonymousConfig struct {
	Disabled    bool     `yaml:"disabled"`
	Principal   string   `yaml:"principal"`
	Authorities []string `yaml:"authorities"`
}

// DecodeWebConfig reads a YAML security layout. Unknown keys are errors.
func DecodeWebConfig(r io.Reader) (WebConfig, error) {
	var cfg WebConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return WebConfig{}, fmt.Errorf("%w: decode security config: %w", ErrConfiguration, err)
	}
	return cfg, nil
}

func (c *FormLoginConfig) withDefaults() FormLoginConfig {
	out := *c
	if out.LoginPage == "" {
		out.LoginPage = "/login"
	}
	if out.ProcessingURL == "" {
		out.ProcessingURL = out.LoginPage
	}
	if out.FailureURL == "" {
		out.FailureURL = out.LoginPage + "?error"
	}
	if out.DefaultSuccessURL == "" {
		out.DefaultSuccessURL = "/"
	}
	if out.UsernameParameter == "" {
		out.UsernameParameter = "username"
	}
	if out.PasswordParameter == "" {
		out.PasswordParameter = "password"
	}
	if out.OTPParameter == "" {
		out.OTPParameter = "otp"
	}
	return out
}

func (c *LogoutConfig) withDefaults(sessionCookie string) LogoutConfig {
	out := *c
	if out.URL == "" {
		out.URL = "/logout"
	}
	if out.SuccessURL == "" {
		out.SuccessURL = "/login?logout"
	}
	if len(out.DeleteCookies) == 0 {
		out.DeleteCookies = []string{sessionCookie}
	}
	if out.InvalidateSession == nil {
		invalidate := true
		out.InvalidateSession = &invalidate
	}
	return out
}
