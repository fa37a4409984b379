package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart string.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))

		if node.Body != nil {
			b.WriteString(fmt.Sprintf("    subgraph %s[\"%s: %s\"]\n",
				mermaidSafeID(node.ID+"_"+node.Body.Label), node.ID, node.Body.Label))
			for _, sub := range node.Body.Nodes {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidNodeDef(sub)))
			}
			for _, edge := range node.Body.Edges {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidEdge(edge)))
			}
			b.WriteString("    end\n")
		}
	}

	for _, edge := range model.Edges {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidEdge(edge)))
	}

	// Status class definitions.
	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef waiting fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		writeStatusClass(&b, node)
		if node.Body != nil {
			for _, sub := range node.Body.Nodes {
				writeStatusClass(&b, sub)
			}
		}
	}

	return b.String()
}

func writeStatusClass(b *strings.Builder, node *Node) {
	cls := mermaidStatusClass(node.Status)
	if cls != "" {
		b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
	}
}

func mermaidEdge(edge Edge) string {
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|%s|", edge.Label)
	}
	return fmt.Sprintf("%s -->%s %s", mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Kind {
	case NodeKindConditional:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindAgent:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindInput:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindLoop, NodeKindSubWorkflow:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidStatusClass maps a node status to a Mermaid class name.
func mermaidStatusClass(status string) string {
	switch status {
	case "completed":
		return "completed"
	case "failed":
		return "failed"
	case "running":
		return "running"
	case "awaiting_approval", "awaiting_input":
		return "waiting"
	case "pending":
		return "pending"
	case "skipped":
		return "skipped"
	default:
		return ""
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
