package orchestrator

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/go-playground/validator/v10"
)

// Validate runs the structural checks of graph. startNodeID, when set, must
// name one of its nodes.
func (o *Orchestrator) Validate(graph models.WorkflowGraph, startNodeID string) error {
	var problems []string

	if err := o.validate.Struct(graph); err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return &ValidationError{Problems: []string{err.Error()}}
		}

		for _, fieldError := range fieldErrors {
			problems = append(problems, fmt.Sprintf("%s failed on '%s'", fieldError.Namespace(), fieldError.Tag()))
		}
	}

	nodes := make(map[string]models.NodeSpec, len(graph.Nodes))

	for _, node := range graph.Nodes {
		if _, duplicate := nodes[node.ID]; duplicate {
			problems = append(problems, fmt.Sprintf("duplicate node id '%s'", node.ID))

			continue
		}

		nodes[node.ID] = node

		if err := o.registry.ValidateConfig(node.Type, node.Config); err != nil {
			problems = append(problems, fmt.Sprintf("node '%s': %v", node.ID, err))
		}
	}

	for i, edge := range graph.Edges {
		source, ok := nodes[edge.Source]
		if !ok {
			problems = append(problems, fmt.Sprintf("edge %d references unknown source '%s'", i, edge.Source))

			continue
		}

		if _, ok := nodes[edge.Target]; !ok {
			problems = append(problems, fmt.Sprintf("edge %d references unknown target '%s'", i, edge.Target))
		}

		if isDefaultHandle(edge.SourceHandle) {
			continue
		}

		handles := o.registry.OutputHandles(source.Type)
		if handles != nil && !slices.Contains(handles, edge.SourceHandle) {
			problems = append(problems, fmt.Sprintf("edge %d uses handle '%s' not declared by node '%s'", i, edge.SourceHandle, source.ID))
		}
	}

	if startNodeID != "" {
		if _, ok := nodes[startNodeID]; !ok {
			problems = append(problems, fmt.Sprintf("start node '%s' does not exist", startNodeID))
		}
	} else if len(graph.Nodes) > 0 {
		if _, ok := graph.EntryNode(); !ok {
			problems = append(problems, "graph has no entry node")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	return nil
}
