package model

import "fmt"

// SegmentFilter narrows a campaign audience.
type SegmentFilter string

const (
	FilterAll        SegmentFilter = "all"
	FilterRegistered SegmentFilter = "reg"
	FilterDeposited  SegmentFilter = "dep"
	FilterLanguage   SegmentFilter = "lang"
)

// ParseSegmentFilter validates a filter token.
func ParseSegmentFilter(s string) (SegmentFilter, bool) {
	switch SegmentFilter(s) {
	case FilterAll, FilterRegistered, FilterDeposited, FilterLanguage:
		return SegmentFilter(s), true
	}
	return "", false
}

// Segment describes who receives a campaign. A zero TenantID means every
// active tenant.
type Segment struct {
	TenantID int64
	Filter   SegmentFilter
	Lang     string
}

// Global reports whether the segment spans all active tenants.
func (s Segment) Global() bool { return s.TenantID == 0 }

func (s Segment) String() string {
	scope := "global"
	if !s.Global() {
		scope = fmt.Sprintf("tenant:%d", s.TenantID)
	}
	f := s.Filter
	if f == "" {
		f = FilterAll
	}
	if f == FilterLanguage {
		return fmt.Sprintf("%s/%s:%s", scope, f, s.Lang)
	}
	return fmt.Sprintf("%s/%s", scope, f)
}
