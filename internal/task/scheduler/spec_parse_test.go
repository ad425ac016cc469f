package scheduler

import (
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "5s", want: 5 * time.Second},
		{in: " 1m30s ", want: 90 * time.Second},
		{in: "250ms", want: 250 * time.Millisecond},
		{in: "02:30", want: 2*time.Hour + 30*time.Minute},
		{in: "00:50", want: 50 * time.Minute},
		{in: "@every 5m", want: 5 * time.Minute},
		{in: "@every 1m30s", want: 90 * time.Second},
		{in: "1d", want: 24 * time.Hour},
		{in: "1w", want: 7 * 24 * time.Hour},
		{in: "1d2h", want: 26 * time.Hour},
		{in: "2w1d", want: 15 * 24 * time.Hour},
		{in: "1.5d", want: 36 * time.Hour},
		{in: "@every 500ms", wantErr: true},
		{in: "@every 1500ms", wantErr: true},
		{in: "1x", wantErr: true},
		{in: "0d", wantErr: true},
		{in: "", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "-5s", wantErr: true},
		{in: "00:00", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "@hourly", wantErr: true},
		{in: "*/5 * * * *", wantErr: true},
		{in: "@every nope", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseInterval(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseInterval(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseInterval(%q) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseInterval(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
