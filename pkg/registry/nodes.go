package registry

import (
	"github.com/dukex/flowrun/pkg/nodes/conditional"
	"github.com/dukex/flowrun/pkg/nodes/httprequest"
	"github.com/dukex/flowrun/pkg/nodes/log"
	"github.com/dukex/flowrun/pkg/nodes/transform"
)

// RegisterDefaultNodes registers all built-in node factories with the registry.
func (r *Registry) RegisterDefaultNodes() {
	r.RegisterNode(httprequest.NewHTTPRequestNodeFactory())
	r.RegisterNode(transform.NewTransformNodeFactory())
	r.RegisterNode(log.NewLogNodeFactory())
	r.RegisterNode(conditional.NewConditionalNodeFactory())
}
