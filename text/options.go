package text

// SourceOption configures a FontSource at construction time.
type SourceOption func(*sourceConfig)

type sourceConfig struct {
	parserName string
}

func defaultSourceConfig() sourceConfig {
	return sourceConfig{parserName: defaultParserName}
}

// WithParser selects a non-default FontParser backend registered via
// RegisterParser.
func WithParser(name string) SourceOption {
	return func(c *sourceConfig) {
		c.parserName = name
	}
}
