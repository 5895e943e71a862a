/*
resolver.go - Policy resolution: exact-then-partial matching

PURPOSE:
  Maps one raw policy number from a carrier statement to zero-or-one
  directory policy. Carriers print policy numbers in their own formats
  ("140-55-9000123" for a policy filed as "A-9000123"), so after the exact
  lookup fails a per-insurer rule extracts a shorter term and scans for
  candidates containing it.

DESIGN:
  The candidate set is fetched once per import (one directory query over all
  raw numbers and extracted terms), then resolution is pure in-memory work:
  deterministic, allocation-light, and never an error. Absence of a match is
  a valid outcome routed to the unidentified bucket, not a failure.

TIE-BREAK:
  When several candidates contain the term, a candidate whose policy number
  splits (on the insurer's delimiter) into a segment exactly equal to the
  term wins over one where the term is merely a substring. Ties beyond that
  fall back to scan order, which is the directory's stable return order.
*/
package commission

import "strings"

// Term reduces a raw policy number to its matchable term: the last
// delimiter-separated segment. Returns "" when the rule is exact-only or the
// raw number carries no delimiter.
func (r MatchRule) Term(raw string) string {
	if !r.Partial || r.Delimiter == "" {
		return ""
	}
	idx := strings.LastIndex(raw, r.Delimiter)
	if idx < 0 || idx == len(raw)-len(r.Delimiter) {
		return ""
	}
	return raw[idx+len(r.Delimiter):]
}

// CandidateSet is the pre-fetched slice of directory policies an import
// resolves against. Order is preserved from the directory query; the partial
// scan relies on it for deterministic tie-breaking.
type CandidateSet struct {
	byNumber map[string]int
	policies []Policy
}

// NewCandidateSet indexes the directory's search results. Later duplicates of
// the same policy number are ignored; the first occurrence wins.
func NewCandidateSet(policies []Policy) *CandidateSet {
	s := &CandidateSet{
		byNumber: make(map[string]int, len(policies)),
		policies: policies,
	}
	for i, p := range policies {
		if _, ok := s.byNumber[p.PolicyNumber]; !ok {
			s.byNumber[p.PolicyNumber] = i
		}
	}
	return s
}

// Resolve maps a raw policy number to a directory policy.
// Returns (policy, true) on a match, (zero, false) otherwise.
func (s *CandidateSet) Resolve(raw string, rule MatchRule) (Policy, bool) {
	if raw == "" {
		return Policy{}, false
	}
	if i, ok := s.byNumber[raw]; ok {
		return s.policies[i], true
	}

	term := rule.Term(raw)
	if term == "" {
		return Policy{}, false
	}

	var (
		first      *Policy
		exactSplit *Policy
	)
	for i := range s.policies {
		p := &s.policies[i]
		if !strings.Contains(p.PolicyNumber, term) {
			continue
		}
		if first == nil {
			first = p
		}
		if exactSplit == nil && hasSegment(p.PolicyNumber, rule.Delimiter, term) {
			exactSplit = p
		}
		if exactSplit != nil {
			break
		}
	}
	if exactSplit != nil {
		return *exactSplit, true
	}
	if first != nil {
		return *first, true
	}
	return Policy{}, false
}

// hasSegment reports whether number, split on delim, contains a segment
// exactly equal to term.
func hasSegment(number, delim, term string) bool {
	if delim == "" {
		return number == term
	}
	for _, seg := range strings.Split(number, delim) {
		if seg == term {
			return true
		}
	}
	return false
}
