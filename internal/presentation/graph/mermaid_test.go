package graph_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/pvm/internal/presentation/graph"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/dsl"
)

func booking() *domain.ProcessDefinition {
	return dsl.New("booking").
		Add("start").Start().Go("split").
		Add("split").Fork().Go("hotel", "flights").
		Add("hotel").Service("book-hotel").CompensateWith("undo-hotel").Go("merge").
		Add("undo-hotel").Service("cancel-hotel").ForCompensation().
		Add("flights").SubProcess("f-start").Parallel(2).Go("merge").
		Add("f-start").Start().In("flights").Go("f-book").
		Add("f-book").Task("Book flight").In("flights").Go("f-end").
		Add("f-end").End().In("flights").
		Add("merge").Join().Go("throw").
		Add("throw").ThrowCompensation("hotel").Go("end").
		Add("end").End().
		Done().MustBuild()
}

func TestGenerateMermaid(t *testing.T) {
	got := graph.GenerateMermaid(booking(), nil)

	tests := []struct {
		name string
		want string
	}{
		{"start shape", `start(("start"))`},
		{"end shape, reserved id", `end_((("end")))`},
		{"service shape", `hotel[["hotel"]]`},
		{"task shape and sanitized id", `f_book[/"Book flight"/]`},
		{"gateway shape", `split{"split"}`},
		{"throw shape", `throw>"throw"]`},
		{"subprocess subgraph", `subgraph flights ["flights <br/> x2 parallel"]`},
		{"flow", "split --> hotel"},
		{"compensation association", "hotel -. compensate .-> undo_hotel"},
		{"throw target", "throw -. undo .-> hotel"},
		{"handler style", "class undo_hotel compensation;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, got, tt.want)
		})
	}
	assert.NotContains(t, got, "Overlay")
}

func TestGenerateMermaid_NestsSubProcess(t *testing.T) {
	got := graph.GenerateMermaid(booking(), nil)

	open := strings.Index(got, "subgraph flights")
	inner := strings.Index(got, `f_book[/"Book flight"/]`)
	assert.Greater(t, inner, open)
	assert.Contains(t, got[open:], "        f_start")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	events := []domain.HistoryEvent{
		{Type: domain.EventActivityStart, ActivityID: "start"},
		{Type: domain.EventActivityEnd, ActivityID: "start"},
		{Type: domain.EventActivityStart, ActivityID: "split"},
		{Type: domain.EventActivityStart, ActivityID: "start"},
	}
	tasks := []domain.Task{{ActivityID: "f-book"}, {ActivityID: "f-book"}}

	overlay := graph.OverlayFromHistory(events, tasks)
	assert.Equal(t, []string{"start", "split", "start"}, overlay.Visited)
	assert.Equal(t, []string{"f-book"}, overlay.Current)

	got := graph.GenerateMermaid(booking(), overlay)
	assert.Equal(t, 1, strings.Count(got, "class start visited;"))
	assert.Contains(t, got, "class split visited;")
	assert.Contains(t, got, "class f_book current;")
}
