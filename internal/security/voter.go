package security

import (
	"fmt"
	"net/http"
	"strings"
)

// Vote is a voter's answer for one request.
type Vote int

const (
	VoteDeny    Vote = -1
	VoteAbstain Vote = 0
	VoteGrant   Vote = 1
)

func (v Vote) String() string {
	switch v {
	case VoteGrant:
		return "grant"
	case VoteDeny:
		return "deny"
	default:
		return "abstain"
	}
}

// Voter judges the attributes it supports and abstains on the rest.
type Voter interface {
	Supports(attr ConfigAttribute) bool
	Vote(auth *Authentication, r *http.Request, attrs []ConfigAttribute) Vote
}

// RoleVoter grants when the principal holds any of the supported authorities.
// An empty Prefix means ROLE_.
type RoleVoter struct {
	Prefix string
}

func (v RoleVoter) prefix() string {
	if v.Prefix == "" {
		return RolePrefix
	}
	return v.Prefix
}

func (v RoleVoter) Supports(attr ConfigAttribute) bool {
	return attr.Expression == nil && strings.HasPrefix(attr.Attribute, v.prefix())
}

func (v RoleVoter) Vote(auth *Authentication, _ *http.Request, attrs []ConfigAttribute) Vote {
	result := VoteAbstain
	for _, attr := range attrs {
		if !v.Supports(attr) {
			continue
		}
		result = VoteDeny
		if auth.HasAuthority(attr.Attribute) {
			return VoteGrant
		}
	}
	return result
}

// AuthorityVoter grants when the principal holds any of the plain authority
// attributes it supports, such as SCOPE_read. Role and IS_AUTHENTICATED_*
// attributes are left to RoleVoter and AuthenticatedVoter.
type AuthorityVoter struct{}

func (AuthorityVoter) Supports(attr ConfigAttribute) bool {
	if attr.Expression != nil || attr.Attribute == "" {
		return false
	}
	return !strings.HasPrefix(attr.Attribute, RolePrefix) && !(AuthenticatedVoter{}).Supports(attr)
}

func (v AuthorityVoter) Vote(auth *Authentication, _ *http.Request, attrs []ConfigAttribute) Vote {
	result := VoteAbstain
	for _, attr := range attrs {
		if !v.Supports(attr) {
			continue
		}
		result = VoteDeny
		if auth.HasAuthority(attr.Attribute) {
			return VoteGrant
		}
	}
	return result
}

// AuthenticatedVoter handles the IS_AUTHENTICATED_* attributes. Every
// supported attribute must hold for a grant.
type AuthenticatedVoter struct{}

func (AuthenticatedVoter) Supports(attr ConfigAttribute) bool {
	if attr.Expression != nil {
		return false
	}
	switch attr.Attribute {
	case AttrFullyAuthenticated, AttrAuthenticated, AttrAuthenticatedAnonymous:
		return true
	}
	return false
}

func (v AuthenticatedVoter) Vote(auth *Authentication, _ *http.Request, attrs []ConfigAttribute) Vote {
	result := VoteAbstain
	for _, attr := range attrs {
		if !v.Supports(attr) {
			continue
		}
		var ok bool
		switch attr.Attribute {
		case AttrFullyAuthenticated:
			ok = auth.IsFullyAuthenticated()
		case AttrAuthenticated:
			ok = auth.IsAuthenticated()
		case AttrAuthenticatedAnonymous:
			ok = true
		}
		if !ok {
			return VoteDeny
		}
		result = VoteGrant
	}
	return result
}

// ExpressionVoter evaluates expression attributes. Evaluation errors deny.
type ExpressionVoter struct{}

func (ExpressionVoter) Supports(attr ConfigAttribute) bool {
	return attr.Expression != nil
}

func (v ExpressionVoter) Vote(auth *Authentication, r *http.Request, attrs []ConfigAttribute) Vote {
	result := VoteAbstain
	for _, attr := range attrs {
		if !v.Supports(attr) {
			continue
		}
		granted, err := attr.Expression.Evaluate(auth, r)
		if err != nil || !granted {
			return VoteDeny
		}
		result = VoteGrant
	}
	return result
}

// AccessDecisionManager decides whether auth may access the request.
type AccessDecisionManager interface {
	Decide(auth *Authentication, r *http.Request, attrs []ConfigAttribute) error
}

// UnanimousDecisionManager grants only when no voter denies and at least one
// voter grants. A request nobody votes on is denied.
type UnanimousDecisionManager struct {
	Voters []Voter
}

func NewUnanimousDecisionManager(voters ...Voter) *UnanimousDecisionManager {
	return &UnanimousDecisionManager{Voters: voters}
}

func (m *UnanimousDecisionManager) Decide(auth *Authentication, r *http.Request, attrs []ConfigAttribute) error {
	grants := 0
	for _, voter := range m.Voters {
		switch voter.Vote(auth, r, attrs) {
		case VoteDeny:
			return fmt.Errorf("%w: %T denied %v", ErrAccessDenied, voter, attrs)
		case VoteGrant:
			grants++
		}
	}
	if grants == 0 {
		return fmt.Errorf("%w: no voter granted %v", ErrAccessDenied, attrs)
	}
	return nil
}
