package security

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

// FilterChainProxy routes each request through the first security filter
// chain that matches it.
type FilterChainProxy struct {
	ignored  []RequestMatcher
	chains   []*SecurityFilterChain
	handlers []http.Handler
	next     http.Handler
	firewall Firewall
}

// ProxyOption configures a FilterChainProxy.
type ProxyOption func(*FilterChainProxy)

// WithFirewall screens requests before chain selection.
func WithFirewall(f Firewall) ProxyOption {
	return func(p *FilterChainProxy) { p.firewall = f }
}

// NewFilterChainProxy validates the chain layout. The last chain must
// match any request and no chain may follow a catch-all, so every request
// that is not ignored has exactly one reachable chain.
func NewFilterChainProxy(next http.Handler, ignored []RequestMatcher, chains []*SecurityFilterChain, opts ...ProxyOption) (*FilterChainProxy, error) {
	if len(chains) == 0 {
		return nil, ErrNoChains
	}
	for i, c := range chains {
		if IsAnyRequest(c.Matcher) && i != len(chains)-1 {
			return nil, fmt.Errorf("%w: %q follows %q", ErrUnreachableChain, chains[i+1].Name, c.Name)
		}
	}
	if last := chains[len(chains)-1]; !IsAnyRequest(last.Matcher) {
		return nil, fmt.Errorf("%w: %q", ErrNoCatchAllChain, last.Name)
	}

	p := &FilterChainProxy{ignored: ignored, chains: chains, next: next}
	for _, c := range chains {
		p.handlers = append(p.handlers, c.Then(next))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// BuildProxy assembles every chain of cfg. Extra configurers are applied to
// the chain with the same name.
func (a *Assembler) BuildProxy(cfg WebConfig, next http.Handler, extra map[string][]Configurer) (*FilterChainProxy, error) {
	ignored, err := AntMatchers(cfg.Ignoring)
	if err != nil {
		return nil, err
	}
	chains := make([]*SecurityFilterChain, 0, len(cfg.Chains))
	for _, hc := range cfg.Chains {
		chain, err := a.Build(hc, extra[hc.Name]...)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}

	var opts []ProxyOption
	if cfg.StrictFirewall {
		opts = append(opts, WithFirewall(StrictFirewall{}))
	}
	return NewFilterChainProxy(next, ignored, chains, opts...)
}

// Chains returns the chains in evaluation order.
func (p *FilterChainProxy) Chains() []*SecurityFilterChain { return p.chains }

// ChainFor returns the chain that would serve r, or nil when r is ignored.
func (p *FilterChainProxy) ChainFor(r *http.Request) *SecurityFilterChain {
	if p.isIgnored(r) {
		return nil
	}
	for _, c := range p.chains {
		if c.Matches(r) {
			return c
		}
	}
	return nil
}

func (p *FilterChainProxy) isIgnored(r *http.Request) bool {
	for _, m := range p.ignored {
		if m.Matches(r) {
			return true
		}
	}
	return false
}

func (p *FilterChainProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	if p.firewall != nil {
		if err := p.firewall.Check(r); err != nil {
			log.Warn("request rejected by firewall", "err", err)
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}
	if p.isIgnored(r) {
		p.next.ServeHTTP(w, r)
		return
	}

	for i, c := range p.chains {
		if !c.Matches(r) {
			continue
		}
		log.Debug("security chain selected", "chain", c.Name)
		p.serveChain(w, r, p.handlers[i])
		return
	}

	// Unreachable: the constructor guarantees a catch-all chain.
	log.Error("no security chain matched request")
	authsdk.ErrServerError.WriteError(w)
}

func (p *FilterChainProxy) serveChain(w http.ResponseWriter, r *http.Request, h http.Handler) {
	ctx := WithAuthentication(r.Context(), nil)
	defer ClearAuthentication(ctx)
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			panic(rec)
		}
		slogx.FromContext(ctx).Error("panic in security chain", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
		authsdk.ErrServerError.WriteError(w)
	}()
	h.ServeHTTP(w, r.WithContext(ctx))
}
