// Package trigger decides whether a git push should enqueue a job for a
// repository. Triggers only gate provider webhooks; the generic notify
// endpoints bypass them entirely.
package trigger

import (
	"encoding/json"
	"fmt"

	"github.com/littleci/littleci/internal/forge"
)

// Kind discriminates the trigger variants.
type Kind string

const (
	// Any matches every notification.
	Any Kind = "any"
	// GitAny matches any git payload.
	GitAny Kind = "git-any"
	// GitTag matches payloads whose reference is a tag.
	GitTag Kind = "git-tag"
	// GitHead matches pushes to one of the named branches.
	GitHead Kind = "git-head"
)

// Trigger is one rule in a repository's trigger list.
type Trigger struct {
	Kind  Kind
	Heads []string // branch names, only for GitHead
}

// Default is the trigger list new repositories start with: pushes to
// master.
func Default() []Trigger {
	return []Trigger{{Kind: GitHead, Heads: []string{"master"}}}
}

// Matches reports whether the rule matches a git reference.
func (t Trigger) Matches(ref forge.GitReference) bool {
	switch t.Kind {
	case Any, GitAny:
		return true
	case GitTag:
		return ref.IsTag()
	case GitHead:
		if ref.IsTag() {
			return false
		}
		for _, head := range t.Heads {
			if head == ref.Branch {
				return true
			}
		}
	}
	return false
}

// ShouldSkip reports whether no rule in the list matches the reference. A
// repository with an empty trigger list never runs from provider pushes.
func ShouldSkip(triggers []Trigger, ref forge.GitReference) bool {
	for _, t := range triggers {
		if t.Matches(ref) {
			return false
		}
	}
	return true
}

// MarshalJSON emits the compact forms operators write in the API:
//
//	"any"
//	{"git": "any"}
//	{"git": "tag"}
//	{"git": {"head": ["master"]}}
func (t Trigger) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case Any:
		return json.Marshal("any")
	case GitAny:
		return json.Marshal(map[string]string{"git": "any"})
	case GitTag:
		return json.Marshal(map[string]string{"git": "tag"})
	case GitHead:
		heads := t.Heads
		if heads == nil {
			heads = []string{}
		}
		return json.Marshal(map[string]map[string][]string{"git": {"head": heads}})
	}
	return nil, fmt.Errorf("unknown trigger kind %q", t.Kind)
}

// UnmarshalJSON parses any of the forms MarshalJSON emits.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "any" {
			return fmt.Errorf("unknown trigger %q", s)
		}
		*t = Trigger{Kind: Any}
		return nil
	}

	var outer struct {
		Git json.RawMessage `json:"git"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return fmt.Errorf("parse trigger: %w", err)
	}
	if len(outer.Git) == 0 {
		return fmt.Errorf("trigger is missing a git variant")
	}

	var variant string
	if err := json.Unmarshal(outer.Git, &variant); err == nil {
		switch variant {
		case "any":
			*t = Trigger{Kind: GitAny}
		case "tag":
			*t = Trigger{Kind: GitTag}
		default:
			return fmt.Errorf("unknown git trigger %q", variant)
		}
		return nil
	}

	var head struct {
		Head []string `json:"head"`
	}
	if err := json.Unmarshal(outer.Git, &head); err != nil {
		return fmt.Errorf("parse git trigger: %w", err)
	}
	*t = Trigger{Kind: GitHead, Heads: head.Head}
	return nil
}
