package config

// Extraction layouts.
const (
	LayoutLabeled = "labeled" // locate fields by label prefix
	LayoutFixed   = "fixed"   // legacy absolute line numbers
)

// Extraction failure policies.
const (
	FailureIsolate = "isolate" // report failed files, keep the rest
	FailureAbort   = "abort"   // first file without metrics aborts the batch
)

// Encoding policies for unknown formula symbols and categorical values.
const (
	PolicyZero   = "zero"
	PolicyStrict = "strict"
)

// ExtractionConfig configures the instrument file extractor.
type ExtractionConfig struct {
	Layout        string `yaml:"layout"`
	FailurePolicy string `yaml:"failure_policy"`
	MaxLines      int    `yaml:"max_lines"`
	Workers       int    `yaml:"workers"`
	SettleDelay   string `yaml:"settle_delay"` // watcher debounce
}

// EncodingConfig configures formula and categorical encoding.
type EncodingConfig struct {
	OnUnknownValue   string  `yaml:"on_unknown_value"`
	ImplicitFraction float64 `yaml:"implicit_fraction"`
}
