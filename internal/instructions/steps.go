package instructions

import "strings"

// ParseSteps splits generated instruction text into individual numbered
// steps. A step starts on a line beginning with a number and a period
// ("1. Click ..."); following unnumbered lines belong to the same step.
func ParseSteps(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var steps []string
	var current string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if isStepStart(line) {
			if current != "" {
				steps = append(steps, strings.TrimSpace(current))
			}
			current = line
		} else if current != "" && line != "" {
			current += " " + line
		}
	}
	if current != "" {
		steps = append(steps, strings.TrimSpace(current))
	}
	return steps
}

func isStepStart(line string) bool {
	if line == "" || line[0] < '0' || line[0] > '9' {
		return false
	}
	head := line
	if len(head) > 4 {
		head = head[:4]
	}
	return strings.Contains(head, ".")
}
