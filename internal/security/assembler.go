package security

import (
	"cmp"
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
)

// Positions of the built-in filters. Every chain runs its filters in this
// order regardless of how it was configured.
const (
	OrderSession           = 100
	OrderLogout            = 200
	OrderClientCredentials = 300
	OrderPreAuthenticated  = 350
	OrderFormLogin         = 400
	OrderBasic             = 500
	OrderBearer            = 600
	OrderAnonymous         = 700
	OrderAuthorization     = 800
)

// Names of the authentication managers an Assembler knows.
const (
	ManagerUsers   = "users"
	ManagerClients = "clients"
)

// Entry point and access denied handler names used by HTTPConfig.
const (
	EntryPointLogin     = "login"
	EntryPointBasic     = "basic"
	EntryPointBearer    = "bearer"
	EntryPointForbidden = "forbidden"

	AccessDeniedStatus = "status"
	AccessDeniedOAuth2 = "oauth2"
)

// Configurer contributes to a chain under construction.
type Configurer interface {
	Configure(b *ChainBuilder) error
}

// ConfigurerFunc adapts a function to Configurer.
type ConfigurerFunc func(b *ChainBuilder) error

func (f ConfigurerFunc) Configure(b *ChainBuilder) error { return f(b) }

type orderedFilter struct {
	order  int
	filter Filter
}

// ChainBuilder collects the filters and rules of one chain.
type ChainBuilder struct {
	Config     HTTPConfig
	registry   *Registry
	filters    []orderedFilter
	permitted  []RequestMatcher
	entryPoint EntryPoint
}

// AddFilter places f at order among the chain's filters. Filters sharing an
// order keep their insertion order.
func (b *ChainBuilder) AddFilter(order int, f Filter) {
	b.filters = append(b.filters, orderedFilter{order: order, filter: f})
}

// Registry is the chain's authorization registry.
func (b *ChainBuilder) Registry() *Registry { return b.registry }

// PermitAll lets every request to paths through, ahead of the chain's own rules.
func (b *ChainBuilder) PermitAll(paths ...string) error {
	for _, p := range paths {
		u, err := url.Parse(p)
		if err != nil {
			return fmt.Errorf("%w: permit path %q: %w", ErrConfiguration, p, err)
		}
		m, err := AntMatcher(u.Path)
		if err != nil {
			return err
		}
		b.permitted = append(b.permitted, m)
	}
	return nil
}

// MiddlewareFilter runs an httpx middleware as a chain filter.
type MiddlewareFilter struct {
	FilterName string
	Middleware httpx.Middleware
}

func (f MiddlewareFilter) Name() string { return f.FilterName }

func (f MiddlewareFilter) ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	f.Middleware(next).ServeHTTP(w, r)
}

// Assembler turns HTTPConfig values into filter chains.
type Assembler struct {
	// Managers by name, see ManagerUsers and ManagerClients.
	Managers map[string]AuthenticationManager
	// Tokens returns the bearer token manager for a resource id.
	Tokens        func(resourceID string) AuthenticationManager
	Sessions      SessionStore
	SessionCookie string
	SecureCookies bool
	// Voters default to the registry's decision voters.
	Voters []Voter
}

func (a *Assembler) sessionCookie() string {
	if a.SessionCookie == "" {
		return DefaultSessionCookie
	}
	return a.SessionCookie
}

func (a *Assembler) manager(name string) (AuthenticationManager, error) {
	if name == "" {
		name = ManagerUsers
	}
	m, ok := a.Managers[name]
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: no %q authentication manager", ErrConfiguration, name)
	}
	return m, nil
}

// Build validates cfg and assembles its chain. Extra configurers run after
// the built-in ones.
func (a *Assembler) Build(cfg HTTPConfig, extra ...Configurer) (*SecurityFilterChain, error) {
	name := cmp.Or(cfg.Name, cfg.Pattern, "default")
	b := &ChainBuilder{Config: cfg, registry: NewRegistry()}

	configurers := []Configurer{
		ConfigurerFunc(a.configureSession),
		ConfigurerFunc(a.configureLogout),
		ConfigurerFunc(a.configureClientCredentials),
		ConfigurerFunc(a.configurePreAuthenticated),
		ConfigurerFunc(a.configureFormLogin),
		ConfigurerFunc(a.configureBasic),
		ConfigurerFunc(a.configureBearer),
		ConfigurerFunc(a.configureAnonymous),
	}
	configurers = append(configurers, extra...)
	for _, c := range configurers {
		if err := c.Configure(b); err != nil {
			return nil, fmt.Errorf("chain %q: %w", name, err)
		}
	}

	if len(b.permitted) > 0 {
		if err := b.registry.AddMapping(b.permitted, PermitAll()); err != nil {
			return nil, fmt.Errorf("chain %q: %w", name, err)
		}
	}
	for i, rule := range cfg.Authorize {
		if err := addRule(b.registry, rule); err != nil {
			return nil, fmt.Errorf("chain %q: authorize rule %d: %w", name, i, err)
		}
	}

	entryPoint, err := a.entryPoint(cfg)
	if err != nil {
		return nil, fmt.Errorf("chain %q: %w", name, err)
	}
	voters := a.Voters
	if len(voters) == 0 {
		voters = b.registry.BuildDecisionVoters()
	}
	denied, err := accessDeniedHandler(cfg)
	if err != nil {
		return nil, fmt.Errorf("chain %q: %w", name, err)
	}
	b.AddFilter(OrderAuthorization, &AuthorizationFilter{
		Registry:      b.registry,
		Decision:      NewUnanimousDecisionManager(voters...),
		EntryPoint:    entryPoint,
		DeniedHandler: denied,
	})

	matcher, err := chainMatcher(cfg)
	if err != nil {
		return nil, fmt.Errorf("chain %q: %w", name, err)
	}

	slices.SortStableFunc(b.filters, func(x, y orderedFilter) int { return cmp.Compare(x.order, y.order) })
	filters := make([]Filter, 0, len(b.filters))
	for _, f := range b.filters {
		filters = append(filters, f.filter)
	}
	return &SecurityFilterChain{Name: name, Matcher: matcher, Filters: filters, Registry: b.registry}, nil
}

func chainMatcher(cfg HTTPConfig) (RequestMatcher, error) {
	if (cfg.Pattern == "" || cfg.Pattern == "/**") && len(cfg.Methods) == 0 {
		return AnyRequest(), nil
	}
	pattern := cmp.Or(cfg.Pattern, "/**")
	return AntMatcher(pattern, cfg.Methods...)
}

func addRule(reg *Registry, rule AuthorizeRule) error {
	patterns := rule.Patterns
	if len(patterns) == 0 {
		patterns = []string{"/**"}
	}
	matchers, err := AntMatchers(patterns, rule.Methods...)
	if err != nil {
		return err
	}

	var attrs []ConfigAttribute
	if rule.Access != "" {
		e, err := CompileExpression(rule.Access)
		if err != nil {
			return err
		}
		attrs = append(attrs, Access(e))
	}
	for _, a := range rule.Attributes {
		attrs = append(attrs, Attribute(a))
	}
	return reg.AddMapping(matchers, attrs...)
}

func (a *Assembler) configureSession(b *ChainBuilder) error {
	if b.Config.Stateless {
		if b.Config.FormLogin != nil {
			return fmt.Errorf("%w: form login needs a stateful chain", ErrConfiguration)
		}
		return nil
	}
	if a.Sessions == nil {
		if b.Config.FormLogin != nil {
			return fmt.Errorf("%w: form login needs a session store", ErrConfiguration)
		}
		return nil
	}
	b.AddFilter(OrderSession, &SessionFilter{Store: a.Sessions, CookieName: a.sessionCookie()})
	return nil
}

func (a *Assembler) configureLogout(b *ChainBuilder) error {
	if b.Config.Logout == nil {
		return nil
	}
	cfg := b.Config.Logout.withDefaults(a.sessionCookie())
	b.AddFilter(OrderLogout, &LogoutFilter{
		URL:               cfg.URL,
		SuccessURL:        cfg.SuccessURL,
		Store:             a.Sessions,
		InvalidateSession: *cfg.InvalidateSession,
		DeleteCookies:     cfg.DeleteCookies,
		SecureCookies:     a.SecureCookies,
	})
	if cfg.PermitAll {
		return b.PermitAll(cfg.URL, cfg.SuccessURL)
	}
	return nil
}

func (a *Assembler) configureClientCredentials(b *ChainBuilder) error {
	if b.Config.ClientCredentials == nil {
		return nil
	}
	m, err := a.manager(ManagerClients)
	if err != nil {
		return err
	}
	endpoints := b.Config.ClientCredentials.Endpoints
	if len(endpoints) == 0 {
		endpoints = []string{authsdk.PathToken}
	}
	b.AddFilter(OrderClientCredentials, &ClientCredentialsFilter{
		Paths:      endpoints,
		Manager:    m,
		EntryPoint: BasicEntryPoint{Realm: "oauth2/client", Error: authsdk.ErrInvalidClient},
	})
	return nil
}

func (a *Assembler) configurePreAuthenticated(b *ChainBuilder) error {
	cfg := b.Config.PreAuthenticated
	if cfg == nil {
		return nil
	}
	if cfg.PrincipalHeader == "" {
		return fmt.Errorf("%w: pre-authentication without a principal header", ErrConfiguration)
	}
	m, err := a.manager(cfg.Manager)
	if err != nil {
		return err
	}
	b.AddFilter(OrderPreAuthenticated, &PreAuthenticatedFilter{
		PrincipalHeader:   http.CanonicalHeaderKey(cfg.PrincipalHeader),
		AuthoritiesHeader: http.CanonicalHeaderKey(cfg.AuthoritiesHeader),
		Manager:           m,
	})
	return nil
}

func (a *Assembler) configureFormLogin(b *ChainBuilder) error {
	if b.Config.FormLogin == nil {
		return nil
	}
	m, err := a.manager(ManagerUsers)
	if err != nil {
		return err
	}
	cfg := b.Config.FormLogin.withDefaults()
	b.AddFilter(OrderFormLogin, &FormLoginFilter{
		ProcessingURL:              cfg.ProcessingURL,
		DefaultSuccessURL:          cfg.DefaultSuccessURL,
		AlwaysUseDefaultSuccessURL: cfg.AlwaysUseDefaultSuccessURL,
		FailureURL:                 cfg.FailureURL,
		UsernameParameter:          cfg.UsernameParameter,
		PasswordParameter:          cfg.PasswordParameter,
		OTPParameter:               cfg.OTPParameter,
		Manager:                    m,
		Store:                      a.Sessions,
		CookieName:                 a.sessionCookie(),
		SecureCookies:              a.SecureCookies,
	})
	if cfg.PermitAll {
		return b.PermitAll(cfg.LoginPage, cfg.ProcessingURL, cfg.FailureURL)
	}
	return nil
}

func (a *Assembler) configureBasic(b *ChainBuilder) error {
	cfg := b.Config.HTTPBasic
	if cfg == nil {
		return nil
	}
	m, err := a.manager(cfg.Manager)
	if err != nil {
		return err
	}
	b.AddFilter(OrderBasic, &BasicAuthenticationFilter{
		Manager:     m,
		EntryPoint:  basicEntryPoint(cfg),
		FormEncoded: cfg.Manager == ManagerClients,
	})
	return nil
}

func basicEntryPoint(cfg *HTTPBasicConfig) BasicEntryPoint {
	ep := BasicEntryPoint{Realm: cmp.Or(cfg.Realm, "bastion")}
	if cfg.Manager == ManagerClients {
		ep.Error = authsdk.ErrInvalidClient
	}
	return ep
}

func (a *Assembler) configureBearer(b *ChainBuilder) error {
	cfg := b.Config.Bearer
	if cfg == nil {
		return nil
	}
	if a.Tokens == nil {
		return fmt.Errorf("%w: bearer authentication needs token services", ErrConfiguration)
	}
	b.AddFilter(OrderBearer, &BearerTokenFilter{
		Manager:             a.Tokens(cfg.ResourceID),
		EntryPoint:          BearerEntryPoint{Realm: cmp.Or(cfg.Realm, "bastion")},
		AllowQueryParameter: cfg.AllowQueryParameter,
	})
	return nil
}

func (a *Assembler) configureAnonymous(b *ChainBuilder) error {
	cfg := b.Config.Anonymous
	if cfg != nil && cfg.Disabled {
		return nil
	}
	f := &AnonymousFilter{}
	if cfg != nil {
		f.Principal, f.Authorities = cfg.Principal, cfg.Authorities
	}
	b.AddFilter(OrderAnonymous, f)
	return nil
}

func (a *Assembler) entryPoint(cfg HTTPConfig) (EntryPoint, error) {
	name := cfg.EntryPoint
	if name == "" {
		switch {
		case cfg.FormLogin != nil:
			name = EntryPointLogin
		case cfg.Bearer != nil:
			name = EntryPointBearer
		case cfg.HTTPBasic != nil, cfg.ClientCredentials != nil:
			name = EntryPointBasic
		default:
			name = EntryPointForbidden
		}
	}

	switch name {
	case EntryPointLogin:
		if cfg.FormLogin == nil {
			return nil, fmt.Errorf("%w: login entry point without form login", ErrConfiguration)
		}
		return LoginURLEntryPoint{LoginPage: cfg.FormLogin.withDefaults().LoginPage, SecureCookies: a.SecureCookies}, nil
	case EntryPointBasic:
		if cfg.HTTPBasic != nil {
			return basicEntryPoint(cfg.HTTPBasic), nil
		}
		return BasicEntryPoint{Realm: "bastion"}, nil
	case EntryPointBearer:
		realm := "bastion"
		if cfg.Bearer != nil {
			realm = cmp.Or(cfg.Bearer.Realm, realm)
		}
		return BearerEntryPoint{Realm: realm}, nil
	case EntryPointForbidden:
		return ForbiddenEntryPoint{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown entry point %q", ErrConfiguration, name)
	}
}

func accessDeniedHandler(cfg HTTPConfig) (AccessDeniedHandler, error) {
	switch cfg.AccessDenied {
	case AccessDeniedOAuth2:
		return OAuth2AccessDeniedHandler{}, nil
	case AccessDeniedStatus:
		return StatusAccessDeniedHandler{}, nil
	case "":
	default:
		return nil, fmt.Errorf("%w: unknown access denied handler %q", ErrConfiguration, cfg.AccessDenied)
	}
	if cfg.Bearer != nil || cfg.ClientCredentials != nil {
		return OAuth2AccessDeniedHandler{}, nil
	}
	return StatusAccessDeniedHandler{}, nil
}
