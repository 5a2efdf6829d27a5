package flow

import "strings"

// Strategy identifies how a selector locates an element.
type Strategy string

// Locator strategies.
const (
	StrategyCSS   Strategy = "css"
	StrategyXPath Strategy = "xpath"
	StrategyID    Strategy = "id"
)

// Selector is an element locator. A plain value is a CSS selector; the
// "css=", "xpath=" and "id=" prefixes pick another strategy. Values that start
// with "//" or "(/" are treated as XPath.
type Selector string

// IsZero reports whether the selector is empty.
func (s Selector) IsZero() bool { return strings.TrimSpace(string(s)) == "" }

// String returns the selector as written.
func (s Selector) String() string { return string(s) }

// Strategy returns the locator strategy.
func (s Selector) Strategy() Strategy {
	strategy, _ := s.split()
	return strategy
}

// Query returns the selector with any strategy prefix removed.
func (s Selector) Query() string {
	_, q := s.split()
	return q
}

func (s Selector) split() (Strategy, string) {
	raw := strings.TrimSpace(string(s))
	for _, st := range []Strategy{StrategyCSS, StrategyXPath, StrategyID} {
		prefix := string(st) + "="
		if len(raw) > len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) {
			return st, strings.TrimSpace(raw[len(prefix):])
		}
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "(/") {
		return StrategyXPath, raw
	}
	return StrategyCSS, raw
}

// DescribeQuoted returns the selector wrapped in quotes for log output.
func (s Selector) DescribeQuoted() string {
	return "\"" + string(s) + "\""
}
