package text

import "testing"

func TestRectWidthHeight(t *testing.T) {
	r := Rect{MinX: 10, MinY: 20, MaxX: 30, MaxY: 50}
	if got := r.Width(); got != 20 {
		t.Errorf("Width() = %v, want 20", got)
	}
	if got := r.Height(); got != 30 {
		t.Errorf("Height() = %v, want 30", got)
	}
}

func TestRectEmpty(t *testing.T) {
	tests := []struct {
		name string
		r    Rect
		want bool
	}{
		{"zero value", Rect{}, true},
		{"zero width", Rect{MinX: 5, MaxX: 5, MinY: 0, MaxY: 10}, true},
		{"zero height", Rect{MinX: 0, MaxX: 10, MinY: 5, MaxY: 5}, true},
		{"non-empty", Rect{MinX: 0, MaxX: 10, MinY: 0, MaxY: 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Empty(); got != tt.want {
				t.Errorf("Empty() = %v, want %v", got, tt.want)
			}
		})
	}
}
