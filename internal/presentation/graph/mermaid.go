package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/pvm/pkg/domain"
)

// GraphOverlay contains instance state to visualize on the graph.
type GraphOverlay struct {
	Visited []string
	Current []string
}

// GenerateMermaid produces a Mermaid flowchart of a process definition.
// Shapes follow the activity type:
// - Start/End: ((Circle)) / (((Double circle)))
// - Service: [[Subroutine]]
// - Task (wait state): [/Parallelogram/]
// - Fork/Join: {Rhombus}
// - Throw compensation: >Flag]
// Sub-processes become subgraphs and compensation handlers hang off their
// activity through a dotted edge.
func GenerateMermaid(def *domain.ProcessDefinition, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	children := make(map[string][]*domain.Activity)
	for _, a := range def.Activities {
		children[a.Parent] = append(children[a.Parent], a)
	}
	for _, list := range children {
		slices.SortFunc(list, func(a, b *domain.Activity) int { return strings.Compare(a.ID, b.ID) })
	}

	var handlers []string
	var writeScope func(parent, indent string)
	writeScope = func(parent, indent string) {
		for _, a := range children[parent] {
			id := sanitizeMermaidID(a.ID)
			if a.Type == domain.ActivitySubProcess {
				fmt.Fprintf(&sb, "%ssubgraph %s [\"%s\"]\n", indent, id, label(a))
				writeScope(a.ID, indent+"    ")
				fmt.Fprintf(&sb, "%send\n", indent)
			} else {
				opener, closer := shape(a.Type)
				fmt.Fprintf(&sb, "%s%s%s\"%s\"%s\n", indent, id, opener, label(a), closer)
			}
			if a.ForCompensation {
				handlers = append(handlers, id)
			}
		}
	}
	writeScope("", "    ")

	ids := make([]string, 0, len(def.Activities))
	for id := range def.Activities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		a := def.Activities[id]
		from := sanitizeMermaidID(id)
		for _, out := range a.Outgoing {
			fmt.Fprintf(&sb, "    %s --> %s\n", from, sanitizeMermaidID(out))
		}
		if a.CompensateWith != "" {
			fmt.Fprintf(&sb, "    %s -. compensate .-> %s\n", from, sanitizeMermaidID(a.CompensateWith))
		}
		if a.Type == domain.ActivityThrowCompensation && a.ActivityRef != "" {
			fmt.Fprintf(&sb, "    %s -. undo .-> %s\n", from, sanitizeMermaidID(a.ActivityRef))
		}
	}

	if len(handlers) > 0 {
		sb.WriteString("    classDef compensation stroke-dasharray: 5 5;\n")
		fmt.Fprintf(&sb, "    class %s compensation;\n", strings.Join(handlers, ","))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) so the styles read on light and dark themes.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.Visited {
			safeID := sanitizeMermaidID(id)
			if !seen[safeID] && safeID != "" {
				seen[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		for _, id := range overlay.Current {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(id))
		}
	}

	return sb.String()
}

// OverlayFromHistory marks every started activity as visited and the
// waiting tasks as current.
func OverlayFromHistory(events []domain.HistoryEvent, tasks []domain.Task) *GraphOverlay {
	overlay := &GraphOverlay{}
	for _, ev := range events {
		if ev.Type == domain.EventActivityStart && ev.ActivityID != "" {
			overlay.Visited = append(overlay.Visited, ev.ActivityID)
		}
	}
	for _, t := range tasks {
		if !slices.Contains(overlay.Current, t.ActivityID) {
			overlay.Current = append(overlay.Current, t.ActivityID)
		}
	}
	return overlay
}

func shape(t domain.ActivityType) (string, string) {
	switch t {
	case domain.ActivityStart:
		return "((", "))"
	case domain.ActivityEnd:
		return "(((", ")))"
	case domain.ActivityService:
		return "[[", "]]"
	case domain.ActivityTask:
		return "[/", "/]"
	case domain.ActivityFork, domain.ActivityJoin:
		return "{", "}"
	case domain.ActivityThrowCompensation:
		return ">", "]"
	}
	return "[", "]"
}

func label(a *domain.Activity) string {
	s := strings.ReplaceAll(a.DisplayName(), "\"", "'")
	if a.IsMultiInstance() {
		mode := "parallel"
		if a.MultiInstance.Sequential {
			mode = "sequential"
		}
		s = fmt.Sprintf("%s <br/> x%d %s", s, a.MultiInstance.Cardinality, mode)
	}
	return s
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	// A bare "end" closes the enclosing block in Mermaid.
	if s == "end" {
		s = "end_"
	}
	return s
}
