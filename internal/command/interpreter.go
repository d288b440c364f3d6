package command

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Action is what the approver asked for.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
)

var (
	// ErrUnrecognized means the reply does not start with a known verb.
	ErrUnrecognized = errors.New("command: unrecognized verb")
	// ErrNoMatch means the verb was understood but no active proposal
	// matches the name fragment.
	ErrNoMatch = errors.New("command: no pending proposal matches that name")
	// ErrAmbiguous means the fragment matched more than one distinct lead.
	ErrAmbiguous = errors.New("command: name fragment matches multiple leads")
)

// Verb sets as the approvers actually type them. Matching happens after
// normalization, so "Sí" and "si" are the same token.
var (
	approveVerbs = tokenSet("si", "ok", "va", "dale", "listo", "sale", "enviar", "aprobar")
	rejectVerbs  = tokenSet("no", "nel", "nop", "cancelar", "rechazar")
	editVerbs    = tokenSet("editar", "edita", "cambiar")
)

func tokenSet(tokens ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Candidate is a lead with a proposal currently awaiting this approver.
type Candidate struct {
	LeadID string
	Name   string
}

// Command is the parsed form of an approver reply: {verb} {name-fragment}
// [free text].
type Command struct {
	Action       Action
	LeadID       string
	LeadName     string
	EditedText   string
	RejectReason string
}

// Normalize lowercases, trims and strips diacritics so "Sí, José" and
// "si, jose" compare equal.
func Normalize(s string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(stripper, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Parse interprets a raw approver reply against the leads with active
// proposals. Resolution never guesses: zero matches is ErrNoMatch, more than
// one distinct lead is ErrAmbiguous.
func Parse(raw string, candidates []Candidate) (*Command, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return nil, ErrUnrecognized
	}

	verb := Normalize(fields[0])
	switch {
	case isVerb(verb, approveVerbs):
		return parseApprove(fields, candidates)
	case isVerb(verb, rejectVerbs):
		return parseReject(fields, candidates)
	case isVerb(verb, editVerbs):
		return parseEdit(fields, candidates)
	default:
		return nil, ErrUnrecognized
	}
}

func isVerb(tok string, set map[string]struct{}) bool {
	_, ok := set[tok]
	return ok
}

func parseApprove(fields []string, candidates []Candidate) (*Command, error) {
	fragment := Normalize(strings.Join(fields[1:], " "))
	target, err := resolve(fragment, candidates)
	if err != nil {
		return nil, err
	}
	return &Command{Action: ActionApprove, LeadID: target.LeadID, LeadName: target.Name}, nil
}

func parseReject(fields []string, candidates []Candidate) (*Command, error) {
	// Everything after the name fragment is kept as the stated reason.
	fragment, reason := "", ""
	if len(fields) > 1 {
		fragment, reason = splitNameRemainder(fields, candidates)
	}
	target, err := resolve(fragment, candidates)
	if err != nil {
		return nil, err
	}
	return &Command{
		Action:       ActionReject,
		LeadID:       target.LeadID,
		LeadName:     target.Name,
		RejectReason: reason,
	}, nil
}

func parseEdit(fields []string, candidates []Candidate) (*Command, error) {
	if len(fields) < 3 {
		return nil, ErrUnrecognized
	}
	fragment, text := splitNameRemainder(fields, candidates)
	if text == "" {
		return nil, ErrUnrecognized
	}
	target, err := resolve(fragment, candidates)
	if err != nil {
		return nil, err
	}
	return &Command{
		Action:     ActionEdit,
		LeadID:     target.LeadID,
		LeadName:   target.Name,
		EditedText: text,
	}, nil
}

// splitNameRemainder separates the lead name from the trailing free text.
// The longest run of tokens after the verb that exactly matches a candidate
// name wins, so "no maria garcia muy caro" names María García when she has
// an open proposal and keeps "muy caro" as the remainder. Without an exact
// multi-token match the name is the single token after the verb.
func splitNameRemainder(fields []string, candidates []Candidate) (string, string) {
	for end := len(fields); end > 2; end-- {
		fragment := Normalize(strings.Join(fields[1:end], " "))
		for _, c := range candidates {
			if Normalize(c.Name) == fragment {
				return fragment, strings.Join(fields[end:], " ")
			}
		}
	}
	return Normalize(fields[1]), strings.Join(fields[2:], " ")
}

// resolve matches a normalized fragment against candidate names at three
// confidence levels: exact, then substring, then first token. The first
// level with matches wins. Matches collapsing to a single lead ID resolve;
// anything else is reported, not guessed.
func resolve(fragment string, candidates []Candidate) (*Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoMatch
	}

	// A bare verb with exactly one open proposal is unambiguous.
	if fragment == "" {
		if uniqueLeads(candidates) == 1 {
			return &candidates[0], nil
		}
		return nil, ErrAmbiguous
	}

	levels := []func(name string) bool{
		func(name string) bool { return name == fragment },
		func(name string) bool { return strings.Contains(name, fragment) },
		func(name string) bool {
			first, _, _ := strings.Cut(name, " ")
			return first == fragment
		},
	}

	for _, match := range levels {
		var hits []Candidate
		for _, c := range candidates {
			if match(Normalize(c.Name)) {
				hits = append(hits, c)
			}
		}
		if len(hits) == 0 {
			continue
		}
		if uniqueLeads(hits) == 1 {
			return &hits[0], nil
		}
		return nil, ErrAmbiguous
	}
	return nil, ErrNoMatch
}

func uniqueLeads(cs []Candidate) int {
	seen := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		seen[c.LeadID] = struct{}{}
	}
	return len(seen)
}
