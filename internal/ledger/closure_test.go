package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/mstrokin/salary-ledger/internal/month"
)

type stubStatuses struct {
	closed map[string]bool
}

func (s *stubStatuses) GetClosed(ctx context.Context, m month.Month) (bool, bool, error) {
	closed, found := s.closed[m.String()]
	return closed, found, nil
}

func fixedNow(y int, mon time.Month, d int) func() time.Time {
	return func() time.Time {
		return time.Date(y, mon, d, 12, 30, 0, 0, time.Local)
	}
}

func TestIsClosed(t *testing.T) {
	jan := month.Month{Year: 2025, Mon: time.January}

	tests := []struct {
		name   string
		flags  map[string]bool
		now    func() time.Time
		want   bool
	}{
		{
			name:  "current month open by default",
			flags: map[string]bool{},
			now:   fixedNow(2025, time.January, 15),
			want:  false,
		},
		{
			name:  "last day of month still open",
			flags: map[string]bool{},
			now:   fixedNow(2025, time.January, 31),
			want:  false,
		},
		{
			name:  "closed by calendar",
			flags: map[string]bool{},
			now:   fixedNow(2025, time.February, 1),
			want:  true,
		},
		{
			name:  "manually closed while calendar open",
			flags: map[string]bool{"2025-01": true},
			now:   fixedNow(2025, time.January, 10),
			want:  true,
		},
		{
			name:  "explicit open flag does not reopen past month",
			flags: map[string]bool{"2025-01": false},
			now:   fixedNow(2025, time.March, 1),
			want:  true,
		},
		{
			name:  "explicit open flag for current month",
			flags: map[string]bool{"2025-01": false},
			now:   fixedNow(2025, time.January, 20),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewClosurePolicy(&stubStatuses{closed: tt.flags}, tt.now)

			got, err := p.IsClosed(context.Background(), jan)
			if err != nil {
				t.Fatalf("IsClosed error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("IsClosed = %v, want %v", got, tt.want)
			}
		})
	}
}
