package tools

import "fmt"

// Keys carries the credentials of the keyed backends.
type Keys struct {
	Tavily string
	Brave  string
}

// New builds a single provider by name.
func New(name string, keys Keys) (Provider, error) {
	switch normalizeName(name) {
	case "tavily":
		return NewTavily(keys.Tavily, "advanced"), nil
	case "brave":
		return NewBrave(keys.Brave), nil
	case "duckduckgo", "ddg":
		return NewDuckDuckGo(), nil
	case "arxiv":
		return NewArxiv(), nil
	default:
		return nil, fmt.Errorf("unknown search provider: %q", name)
	}
}

// Chain returns the preferred provider followed by the web fallbacks, in
// the order the dispatcher should try them. Duplicates are skipped.
func Chain(preferred string, keys Keys) ([]Provider, error) {
	order := []string{"tavily", "brave", "duckduckgo"}
	if preferred != "" {
		order = append([]string{preferred}, order...)
	}

	seen := make(map[string]bool)
	var chain []Provider
	for _, name := range order {
		p, err := New(name, keys)
		if err != nil {
			return nil, err
		}
		if seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		chain = append(chain, p)
	}
	return chain, nil
}
