package domain

// ValidationKind names one VariationParser error or warning category.
type ValidationKind string

const (
	IssueInsufficientVariations ValidationKind = "INSUFFICIENT_VARIATIONS"
	IssueTooManyVariations      ValidationKind = "TOO_MANY_VARIATIONS"
	IssueTooManyBlocks          ValidationKind = "TOO_MANY_BLOCKS"
	IssueOptionTooLong          ValidationKind = "OPTION_TOO_LONG"
	IssueParseError             ValidationKind = "PARSE_ERROR"

	IssueEmptyVariations     ValidationKind = "EMPTY_VARIATIONS"
	IssueDuplicateVariations ValidationKind = "DUPLICATE_VARIATIONS"
	IssueNoStaticText        ValidationKind = "NO_STATIC_TEXT"
	IssueNoVariations        ValidationKind = "NO_VARIATIONS"
)

// ValidationIssue is one error or warning surfaced while parsing a Template.
// BlockIndex is -1 when the issue isn't attributable to a single block.
type ValidationIssue struct {
	Kind       ValidationKind `json:"kind"`
	Message    string         `json:"message"`
	BlockIndex int            `json:"block_index"`
}

// Block is a whitespace-bounded segment of a raw template carrying two or
// more pipe-separated options. Offsets are code-point indices into Raw.
type Block struct {
	Index       int      `json:"index"`
	StartOffset int      `json:"start_offset"`
	EndOffset   int      `json:"end_offset"`
	Options     []string `json:"options"`
}

// Template is a parsed humanized message: the raw source, its ordered
// variation blocks, every {{variable}} name referenced anywhere in it, and
// a validation report. Parsing never fails outright — IsValid and Errors
// describe whatever is wrong with the input instead of raising one.
type Template struct {
	Raw               string            `json:"raw"`
	Blocks            []Block           `json:"blocks"`
	VariableNames     []string          `json:"variable_names,omitempty"`
	IsValid           bool              `json:"is_valid"`
	Errors            []ValidationIssue `json:"errors,omitempty"`
	Warnings          []ValidationIssue `json:"warnings,omitempty"`
	TotalCombinations int               `json:"total_combinations"`
}

// Selection records, for one render, which option was chosen for one block.
type Selection struct {
	BlockIndex  int    `json:"block_index"`
	OptionIndex int    `json:"option_index"`
	OptionText  string `json:"option_text"`
}

// ProcessedMessage is the outcome of running a template through selection
// and variable substitution: TemplateProcessor's return value.
type ProcessedMessage struct {
	Success          bool              `json:"success"`
	Raw              string            `json:"raw"`
	Final            string            `json:"final"`
	Selections       []Selection       `json:"selections,omitempty"`
	AppliedVariables map[string]string `json:"applied_variables,omitempty"`
	MissingVariables []string          `json:"missing_variables,omitempty"`
	ExtraVariables   []string          `json:"extra_variables,omitempty"`
	Parsed           Template          `json:"parsed"`
	Errors           []ValidationIssue `json:"errors,omitempty"`
	Warnings         []ValidationIssue `json:"warnings,omitempty"`
}

// VariationLogEntry is one durable audit row: the template plus the
// selections that rendered it for one recipient. The rendered text itself
// is not stored here — it is reconstructible from TemplateRaw+Selections —
// matching the persisted variation_log schema, which carries no rendered
// text column.
type VariationLogEntry struct {
	ID                string      `json:"id" db:"id"`
	CampaignID        string      `json:"campaign_id,omitempty" db:"campaign_id"`
	MessageID         string      `json:"message_id,omitempty" db:"message_id"`
	ProviderMessageID string      `json:"provider_message_id,omitempty" db:"provider_message_id"`
	AccountID         string      `json:"account_id" db:"account_id"`
	TemplateRaw       string      `json:"template_raw" db:"template_raw"`
	Selections        []Selection `json:"selections" db:"-"`
	RecipientIndex    int         `json:"recipient_index" db:"recipient_index"`
	RecipientAddress  string      `json:"recipient" db:"recipient"`
	SentAt            int64       `json:"sent_at" db:"sent_at"`
	Delivered         bool        `json:"delivered" db:"delivered"`
	Read              bool        `json:"read" db:"read"`
}

// DistributionHistogram is one block's observed option counts over some
// number of draws, used by RandomSelector.TestDistribution to verify
// uniformity (Property P6) independent of any persisted log.
type DistributionHistogram struct {
	BlockIndex int   `json:"block_index"`
	Counts     []int `json:"counts"`
}
