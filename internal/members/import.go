package members

import "strings"

// ParseImport reads one member per line in the form "name, phone, notes".
// Blank lines are skipped; both the ASCII and the Arabic comma separate fields.
func ParseImport(text string) ([]Input, error) {
	var (
		out     []Input
		missing []int
	)
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(strings.ReplaceAll(line, "،", ","), ",")
		for j := range parts {
			parts[j] = strings.TrimSpace(parts[j])
		}
		in := Input{Name: parts[0]}
		if len(parts) > 1 && parts[1] != "" {
			in.Phones = []string{parts[1]}
		}
		if len(parts) > 2 {
			in.Notes = parts[2]
		}
		if in.Name == "" {
			missing = append(missing, i+1)
		}
		out = append(out, in)
	}
	if len(missing) > 0 {
		return nil, &ImportError{Lines: missing}
	}
	if len(out) == 0 {
		return nil, ErrEmptyImport
	}
	return out, nil
}
