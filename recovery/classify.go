// Package recovery implements the three-layer failure policy for tool
// execution: transient errors are retried with bounded exponential backoff,
// credential-missing errors short-circuit into a connection link, and
// everything else degrades into a human-readable terminal message the model
// can react to.
package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/loopkit/loopkit/provider"
	"github.com/loopkit/loopkit/tool"
)

// Class is the outcome of classifying one execution failure.
type Class int

const (
	// ClassTransient failures are expected to succeed if retried unchanged.
	ClassTransient Class = iota
	// ClassCredentialMissing failures require the user to authorize a toolkit.
	ClassCredentialMissing
	// ClassTerminal failures are not recoverable within this turn.
	ClassTerminal
)

// String returns the class name for logs.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassCredentialMissing:
		return "credential_missing"
	default:
		return "terminal"
	}
}

// Classification carries the class plus the implicated toolkit for
// credential-missing failures.
type Classification struct {
	Class   Class
	Toolkit string
}

// transientPatterns groups transient signal substrings by category, matched
// case-insensitively against err.Error(). String matching is used because
// tool providers do not expose typed errors for these failures.
var transientPatterns = [][]string{
	{"timeout", "timed out", "deadline exceeded"},
	{"rate limit", "too many requests", "429"},
	{"connection reset", "connection refused", "broken pipe"},
	{"service unavailable", "500", "502", "503", "504"},
	{"temporarily", "transient", "try again"},
}

// Policy classifies failures. The resolver supplies credential-missing
// detection; a nil resolver means no error ever classifies as
// credential-missing.
type Policy struct {
	resolver provider.ConnectionResolver
}

// NewPolicy creates a Policy using the given connection resolver.
func NewPolicy(resolver provider.ConnectionResolver) *Policy {
	return &Policy{resolver: resolver}
}

// Classify maps err into exactly one class. The transient signal table is
// consulted first; an error matching both a transient signal and the
// credential signature is still classified credential-missing, since
// retrying can never conjure a missing authorization. Everything unmatched
// is terminal.
func (p *Policy) Classify(err error) Classification {
	if err == nil {
		return Classification{Class: ClassTerminal}
	}
	if toolkit, ok := p.requiredToolkit(err); ok {
		return Classification{Class: ClassCredentialMissing, Toolkit: toolkit}
	}
	if IsTransient(err) {
		return Classification{Class: ClassTransient}
	}
	return Classification{Class: ClassTerminal}
}

func (p *Policy) requiredToolkit(err error) (string, bool) {
	if p.resolver == nil {
		return "", false
	}
	return p.resolver.RequiredToolkit(err)
}

// IsTransient reports whether err matches the fixed transient signal table.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, group := range transientPatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}

// credentialSignatures are the substrings that mark an error as a missing
// authorization, independent of which toolkit it names.
var credentialSignatures = []string{
	"not connected",
	"no connected account",
	"connection required",
	"authorization required",
	"unauthorized",
	"authenticate",
	"connect your",
	"401",
}

// KeywordResolver is the default ConnectionResolver: it pattern-matches
// error text against a known capability-name list plus a credential
// signature. It satisfies the connection-management collaborator contract
// for providers that only surface textual errors.
type KeywordResolver struct {
	toolkits []string
}

// NewKeywordResolver creates a resolver over the given toolkit names.
func NewKeywordResolver(toolkits ...string) *KeywordResolver {
	lowered := make([]string, len(toolkits))
	for i, tk := range toolkits {
		lowered[i] = strings.ToLower(tk)
	}
	return &KeywordResolver{toolkits: lowered}
}

// RequiredToolkit implements provider.ConnectionResolver. A typed execution
// error carrying the not-connected code counts as a credential signature;
// otherwise the error text must match one.
func (r *KeywordResolver) RequiredToolkit(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	msg := strings.ToLower(err.Error())

	var execErr *tool.ExecError
	if errors.As(err, &execErr) && execErr.Code == tool.CodeNotConnected {
		for _, tk := range r.toolkits {
			if strings.Contains(msg, tk) || strings.HasPrefix(strings.ToLower(execErr.Tool), tk) {
				return tk, true
			}
		}
		return "", false
	}

	signed := false
	for _, sig := range credentialSignatures {
		if strings.Contains(msg, sig) {
			signed = true
			break
		}
	}
	if !signed {
		return "", false
	}
	for _, tk := range r.toolkits {
		if strings.Contains(msg, tk) {
			return tk, true
		}
	}
	return "", false
}
