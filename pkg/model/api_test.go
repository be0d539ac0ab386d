package model

import "testing"

func TestListOptions_Clamp(t *testing.T) {
	tests := []struct {
		name      string
		input     ListOptions
		wantLimit int
		wantOffset int
	}{
		{"defaults", ListOptions{Limit: 0, Offset: 0}, 20, 0},
		{"negative limit", ListOptions{Limit: -5, Offset: 0}, 20, 0},
		{"over max", ListOptions{Limit: 200, Offset: 0}, 100, 0},
		{"negative offset", ListOptions{Limit: 10, Offset: -3}, 10, 0},
		{"valid", ListOptions{Limit: 50, Offset: 10}, 50, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.Clamp()
			if tt.input.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", tt.input.Limit, tt.wantLimit)
			}
			if tt.input.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", tt.input.Offset, tt.wantOffset)
			}
		})
	}
}

func TestDefaultListOptions(t *testing.T) {
	opts := DefaultListOptions()
	if opts.Limit != 20 {
		t.Errorf("Limit = %d, want 20", opts.Limit)
	}
	if opts.Offset != 0 {
		t.Errorf("Offset = %d, want 0", opts.Offset)
	}
}

func TestNewPagination(t *testing.T) {
	opts := ListOptions{Limit: 10, Offset: 10}
	pg := NewPagination(25, opts)
	if !pg.HasMore {
		t.Error("HasMore = false, want true")
	}
	pg = NewPagination(20, opts)
	if pg.HasMore {
		t.Error("HasMore = true, want false")
	}
	if pg.Total != 20 || pg.Limit != 10 || pg.Offset != 10 {
		t.Errorf("pagination = %+v", pg)
	}
}

func TestListOptions_NormalizeValidate(t *testing.T) {
	tests := []struct {
		name      string
		opts      ListOptions
		wantState string
		wantErrs  []string
	}{
		{"empty", ListOptions{}, "", nil},
		{"lower-case state", ListOptions{State: " failed "}, "FAILED", nil},
		{"unknown state", ListOptions{State: "done"}, "DONE", []string{"state"}},
		{"negative offset", ListOptions{Offset: -1}, "", []string{"offset"}},
		{"both", ListOptions{State: "x", Offset: -5}, "X", []string{"state", "offset"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Normalize()
			if tt.opts.State != tt.wantState {
				t.Errorf("State = %q, want %q", tt.opts.State, tt.wantState)
			}
			errs := tt.opts.Validate()
			if len(errs) != len(tt.wantErrs) {
				t.Fatalf("Validate() = %+v, want fields %v", errs, tt.wantErrs)
			}
			for i, e := range errs {
				if e.Field != tt.wantErrs[i] {
					t.Errorf("errs[%d].Field = %q, want %q", i, e.Field, tt.wantErrs[i])
				}
			}
		})
	}
}
