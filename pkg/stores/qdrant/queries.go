package qdrant

// buildFilter renders scope filters as the must-match conjunction Qdrant
// expects. A nil return means no filtering.
func buildFilter(filters map[string]string) map[string]any {
	if len(filters) == 0 {
		return nil
	}

	must := make([]map[string]any, 0, len(filters))
	for key, value := range filters {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}

	return map[string]any{"must": must}
}
