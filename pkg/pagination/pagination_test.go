package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=1000", MaxLimit, 0},
		{"?limit=-3&offset=-1", DefaultLimit, 0},
		{"?limit=abc", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := paramsFor(tt.query)
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("FromContext(%q) = %+v, want limit=%d offset=%d", tt.query, p, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, 2, 0)
	if !r.HasMore {
		t.Error("expected HasMore with 5 total and first page of 2")
	}
	r = NewResponse([]int{5}, 5, 2, 4)
	if r.HasMore {
		t.Error("expected no more results on the last page")
	}
}

func TestParams_Next(t *testing.T) {
	p := Params{Limit: 10, Offset: 20}
	if !p.HasNext(31) {
		t.Error("expected next page")
	}
	if p.HasNext(30) {
		t.Error("expected no next page")
	}
	if p.NextOffset() != 30 {
		t.Errorf("expected next offset 30, got %d", p.NextOffset())
	}
}

func TestWindow(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	if got := Window(items, Params{Limit: 2, Offset: 1}); len(got) != 2 || got[0] != "b" {
		t.Errorf("unexpected window %v", got)
	}
	if got := Window(items, Params{Limit: 10, Offset: 3}); len(got) != 2 {
		t.Errorf("expected tail of 2, got %v", got)
	}
	if got := Window(items, Params{Limit: 2, Offset: 9}); len(got) != 0 {
		t.Errorf("expected empty window, got %v", got)
	}
}
