// Package humanize implements template parsing, variant selection, and
// rendering for humanized message bodies: raw text sprinkled with
// pipe-delimited variation blocks (whitespace-bounded `option-a|option-b`
// segments) combined with `{{variable}}` substitution.
package humanize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harborwave/humanizer/internal/domain"
)

const (
	maxBlocks       = 20
	maxOptions      = 10
	minOptions      = 2
	maxOptionLength = 500 // code points
)

var variablePattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Parse tokenizes raw into a Template. It never fails: structural problems
// are recorded as errors/warnings on the returned Template instead of being
// raised, per VariationParser's contract. Two calls with the same input
// yield structurally equal Templates (Property P1).
//
// Algorithm: split raw on ASCII whitespace runs into segments; a segment
// with no '|' is static text and left untouched. A segment containing '|'
// is split on '|', each part trimmed of ASCII whitespace and empties
// dropped; it becomes a Block iff the surviving option count is in
// [2, 10]. Offsets are code-point indices into raw.
func Parse(raw string) (tmpl domain.Template) {
	defer func() {
		if r := recover(); r != nil {
			tmpl = domain.Template{
				Raw:               raw,
				TotalCombinations: 1,
				Errors: []domain.ValidationIssue{{
					Kind:       domain.IssueParseError,
					Message:    fmt.Sprintf("internal parser error: %v", r),
					BlockIndex: -1,
				}},
			}
		}
	}()

	runes := []rune(raw)
	var blocks []domain.Block
	var warnings []domain.ValidationIssue
	var errs []domain.ValidationIssue
	staticRunes := 0

	i := 0
	for i < len(runes) {
		if isASCIISpace(runes[i]) {
			staticRunes++
			i++
			continue
		}
		start := i
		for i < len(runes) && !isASCIISpace(runes[i]) {
			i++
		}
		segment := string(runes[start:i])

		if !strings.Contains(segment, "|") {
			staticRunes += i - start
			continue
		}

		rawParts := strings.Split(segment, "|")
		options := make([]string, 0, len(rawParts))
		dropped := false
		for _, p := range rawParts {
			trimmed := trimASCIISpace(p)
			if trimmed == "" {
				dropped = true
				continue
			}
			options = append(options, trimmed)
		}

		switch {
		case len(options) < minOptions:
			errs = append(errs, domain.ValidationIssue{
				Kind:       domain.IssueInsufficientVariations,
				Message:    fmt.Sprintf("segment %q yields fewer than %d options", segment, minOptions),
				BlockIndex: -1,
			})
			staticRunes += i - start
			continue
		case len(options) > maxOptions:
			errs = append(errs, domain.ValidationIssue{
				Kind:       domain.IssueTooManyVariations,
				Message:    fmt.Sprintf("segment %q yields more than %d options", segment, maxOptions),
				BlockIndex: -1,
			})
			staticRunes += i - start
			continue
		}

		if dropped {
			warnings = append(warnings, domain.ValidationIssue{
				Kind:       domain.IssueEmptyVariations,
				Message:    fmt.Sprintf("block %d dropped one or more empty options", len(blocks)),
				BlockIndex: len(blocks),
			})
		}
		if hasDuplicate(options) {
			warnings = append(warnings, domain.ValidationIssue{
				Kind:       domain.IssueDuplicateVariations,
				Message:    fmt.Sprintf("block %d has duplicate options", len(blocks)),
				BlockIndex: len(blocks),
			})
		}
		for _, opt := range options {
			if len([]rune(opt)) > maxOptionLength {
				errs = append(errs, domain.ValidationIssue{
					Kind:       domain.IssueOptionTooLong,
					Message:    fmt.Sprintf("block %d has an option over %d code points", len(blocks), maxOptionLength),
					BlockIndex: len(blocks),
				})
				break
			}
		}

		blocks = append(blocks, domain.Block{
			Index:       len(blocks),
			StartOffset: start,
			EndOffset:   i,
			Options:     options,
		})
	}

	if len(blocks) > maxBlocks {
		errs = append(errs, domain.ValidationIssue{
			Kind:       domain.IssueTooManyBlocks,
			Message:    fmt.Sprintf("template has %d blocks, exceeding the limit of %d", len(blocks), maxBlocks),
			BlockIndex: -1,
		})
		blocks = blocks[:maxBlocks]
	}

	if len(blocks) == 0 {
		warnings = append(warnings, domain.ValidationIssue{
			Kind:       domain.IssueNoVariations,
			Message:    "template has no variation blocks",
			BlockIndex: -1,
		})
	} else if staticRunes == 0 {
		warnings = append(warnings, domain.ValidationIssue{
			Kind:       domain.IssueNoStaticText,
			Message:    "template consists entirely of variation blocks",
			BlockIndex: -1,
		})
	}

	combinations := 1
	for _, b := range blocks {
		combinations *= len(b.Options)
	}

	return domain.Template{
		Raw:               raw,
		Blocks:            blocks,
		VariableNames:     extractVariableNames(raw),
		IsValid:           len(errs) == 0,
		Errors:            errs,
		Warnings:          warnings,
		TotalCombinations: combinations,
	}
}

func extractVariableNames(raw string) []string {
	matches := variablePattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var names []string
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func hasDuplicate(options []string) bool {
	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		if _, ok := seen[o]; ok {
			return true
		}
		seen[o] = struct{}{}
	}
	return false
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

func trimASCIISpace(s string) string {
	return strings.TrimFunc(s, isASCIISpace)
}
