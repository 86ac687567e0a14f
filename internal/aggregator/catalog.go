package aggregator

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Mapping is one entry of the aggregated catalog: the gateway-visible name,
// where it routes to, and the descriptor forwarded to clients.
type Mapping struct {
	GatewayName  string
	UpstreamID   string
	OriginalName string
	Tool         mcp.Tool
}

// catalog is one immutable snapshot of the aggregated tool set. It is built
// in full and then published; nothing mutates it afterwards.
type catalog struct {
	byName  map[string]Mapping
	ordered []Mapping
}

func emptyCatalog() *catalog {
	return &catalog{byName: make(map[string]Mapping)}
}

// upstreamTools is the raw per-upstream input to a catalog build.
type upstreamTools struct {
	upstreamID string
	prefix     string
	label      string
	tools      []mcp.Tool
}

// buildCatalog assembles a snapshot from per-upstream tool sets, in the given
// order. Name collisions are resolved with a numeric suffix starting at 2 in
// insertion order, keeping every gateway name unique.
func buildCatalog(inputs []upstreamTools) *catalog {
	c := emptyCatalog()
	for _, input := range inputs {
		for _, tool := range input.tools {
			name := gatewayName(input.prefix, tool.Name)
			if _, taken := c.byName[name]; taken {
				for n := 2; ; n++ {
					candidate := fmt.Sprintf("%s%s%d", name, Separator, n)
					if _, taken := c.byName[candidate]; !taken {
						name = candidate
						break
					}
				}
			}

			exposed := tool
			exposed.Name = name
			exposed.Description = annotateOrigin(tool.Description, input.label)

			mapping := Mapping{
				GatewayName:  name,
				UpstreamID:   input.upstreamID,
				OriginalName: tool.Name,
				Tool:         exposed,
			}
			c.byName[name] = mapping
			c.ordered = append(c.ordered, mapping)
		}
	}
	return c
}

// annotateOrigin marks the upstream an exposed tool comes from, so clients
// inspecting descriptions can tell aggregated tools apart.
func annotateOrigin(description, label string) string {
	if description == "" {
		return fmt.Sprintf("[%s]", label)
	}
	return fmt.Sprintf("[%s] %s", label, description)
}

// Tools returns the exposed descriptors in catalog order.
func (c *catalog) Tools() []mcp.Tool {
	tools := make([]mcp.Tool, len(c.ordered))
	for i, mapping := range c.ordered {
		tools[i] = mapping.Tool
	}
	return tools
}
