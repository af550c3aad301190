package humanize

import (
	"sort"
	"strings"
	"time"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/seam"
)

// ProcessOptions tunes one Process call.
type ProcessOptions struct {
	// ValidateOnly short-circuits after parsing: no selection or
	// substitution is performed, and Final is left empty.
	ValidateOnly bool
	// Seed, if non-nil, makes selection deterministic via SelectWithSeed
	// instead of drawing from the Processor's injected RandomSource.
	Seed *uint64
}

// Processor is TemplateProcessor: it composes VariationParser and
// RandomSelector, substitutes variables, and caches parse results.
type Processor struct {
	cache *parseCache
	rand  seam.RandomSource
}

// NewProcessor builds a Processor. src may be nil to use a system-seeded
// source; cacheCapacity <= 0 uses the default of 100 entries.
func NewProcessor(src seam.RandomSource, cacheCapacity int) *Processor {
	if src == nil {
		src = seam.NewSystemRandom(time.Now().UnixNano())
	}
	return &Processor{cache: newParseCache(cacheCapacity), rand: src}
}

// CacheStats reports the parse cache's cumulative hit/miss counts.
func (p *Processor) CacheStats() (hits, misses int64) { return p.cache.Stats() }

// Process parses raw (through the cache), selects one option per block, and
// substitutes variables, in that order (Property P12). Unresolved
// {{name}} placeholders are left verbatim rather than erroring (Property
// P3); processing failure is reported through Success/Errors, never a
// panic or returned error.
func (p *Processor) Process(raw string, vars map[string]string, opts ProcessOptions) domain.ProcessedMessage {
	tmpl := p.cache.parse(raw)

	if !tmpl.IsValid {
		return domain.ProcessedMessage{
			Success:  false,
			Raw:      raw,
			Parsed:   tmpl,
			Errors:   tmpl.Errors,
			Warnings: tmpl.Warnings,
		}
	}
	if opts.ValidateOnly {
		return domain.ProcessedMessage{
			Success:  true,
			Raw:      raw,
			Parsed:   tmpl,
			Warnings: tmpl.Warnings,
		}
	}

	var selections []domain.Selection
	if opts.Seed != nil {
		selections = SelectWithSeed(tmpl.Blocks, *opts.Seed)
	} else {
		selections = Select(tmpl.Blocks, p.rand)
	}

	spliced := substituteBlocks(raw, tmpl.Blocks, selections)
	final, applied, missing, extra := substituteVariables(spliced, vars)

	return domain.ProcessedMessage{
		Success:          true,
		Raw:              raw,
		Final:            final,
		Selections:       selections,
		AppliedVariables: applied,
		MissingVariables: missing,
		ExtraVariables:   extra,
		Parsed:           tmpl,
		Warnings:         tmpl.Warnings,
	}
}

// Preview runs selection up to n (clamped to 10) times using SelectMany,
// substituting variables into each to produce distinct sample outputs.
func (p *Processor) Preview(raw string, vars map[string]string, n int) []domain.ProcessedMessage {
	tmpl := p.cache.parse(raw)
	if !tmpl.IsValid {
		return []domain.ProcessedMessage{{Success: false, Raw: raw, Parsed: tmpl, Errors: tmpl.Errors, Warnings: tmpl.Warnings}}
	}
	if n <= 0 {
		n = 1
	}
	if n > 10 {
		n = 10
	}

	var combos [][]domain.Selection
	if len(tmpl.Blocks) == 0 {
		combos = [][]domain.Selection{nil}
	} else {
		combos = SelectMany(tmpl.Blocks, n, p.rand)
	}

	out := make([]domain.ProcessedMessage, 0, len(combos))
	for _, selections := range combos {
		spliced := substituteBlocks(raw, tmpl.Blocks, selections)
		final, applied, missing, extra := substituteVariables(spliced, vars)
		out = append(out, domain.ProcessedMessage{
			Success: true, Raw: raw, Final: final, Selections: selections,
			AppliedVariables: applied, MissingVariables: missing, ExtraVariables: extra,
			Parsed: tmpl, Warnings: tmpl.Warnings,
		})
	}
	return out
}

// substituteBlocks replaces each block's span in raw with its selected
// option text, copying everything outside block spans verbatim. selections
// must be in the same order as blocks.
func substituteBlocks(raw string, blocks []domain.Block, selections []domain.Selection) string {
	if len(blocks) == 0 {
		return raw
	}
	runes := []rune(raw)
	var out strings.Builder
	cursor := 0
	for i, b := range blocks {
		out.WriteString(string(runes[cursor:b.StartOffset]))
		out.WriteString(selections[i].OptionText)
		cursor = b.EndOffset
	}
	out.WriteString(string(runes[cursor:]))
	return out.String()
}

// substituteVariables replaces every {{name}} in s with vars[name]. A name
// absent from vars is left verbatim and reported in missing; a vars key
// never referenced in s is reported in extra.
func substituteVariables(s string, vars map[string]string) (final string, applied map[string]string, missing, extra []string) {
	applied = map[string]string{}
	used := map[string]struct{}{}
	missingSet := map[string]struct{}{}

	final = variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := variablePattern.FindStringSubmatch(match)
		name := sub[1]
		if v, ok := vars[name]; ok {
			applied[name] = v
			used[name] = struct{}{}
			return v
		}
		missingSet[name] = struct{}{}
		return match
	})

	for name := range missingSet {
		missing = append(missing, name)
	}
	sort.Strings(missing)

	for name := range vars {
		if _, ok := used[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)

	return final, applied, missing, extra
}
