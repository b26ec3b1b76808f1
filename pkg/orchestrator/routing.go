package orchestrator

import "github.com/dukex/flowrun/pkg/models"

func isDefaultHandle(handle string) bool {
	return handle == "" || handle == models.HandleDefault || handle == models.HandleOutput
}

// SelectEdge picks the edge to follow after a node produced output. In order
// of priority: an edge whose handle is a key of the result, the edge tagged
// with the result status, then the first untagged or default edge.
func SelectEdge(edges []models.Edge, output any) (models.Edge, bool) {
	if result, ok := models.AsResult(output); ok {
		for _, edge := range edges {
			if isDefaultHandle(edge.SourceHandle) {
				continue
			}

			if _, present := result[edge.SourceHandle]; present {
				return edge, true
			}
		}

		if status := result.Status(); status == models.StatusSuccess || status == models.StatusError {
			for _, edge := range edges {
				if edge.SourceHandle == status {
					return edge, true
				}
			}
		}
	}

	for _, edge := range edges {
		if isDefaultHandle(edge.SourceHandle) {
			return edge, true
		}
	}

	return models.Edge{}, false
}

// Project derives the input of the next node from output and the handle of
// the edge taken.
func Project(output any, handle string) any {
	result, ok := models.AsResult(output)
	if !ok {
		return output
	}

	if handle != "" {
		if v, present := result[handle]; present {
			return v
		}
	}

	if result.Status() != models.StatusError {
		if v, present := result["data"]; present {
			return v
		}
	}

	if v, present := result["error"]; present {
		return v
	}

	return output
}
