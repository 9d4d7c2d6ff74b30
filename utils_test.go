package escrow

import (
	"math/big"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     *big.Int
		wantErr  bool
	}{
		{
			name:     "whole number",
			amount:   "100",
			decimals: 6,
			want:     big.NewInt(100000000),
		},
		{
			name:     "decimal amount",
			amount:   "1.5",
			decimals: 6,
			want:     big.NewInt(1500000),
		},
		{
			name:     "leading dot",
			amount:   ".25",
			decimals: 2,
			want:     big.NewInt(25),
		},
		{
			name:     "truncate extra decimals",
			amount:   "1.1234567",
			decimals: 6,
			want:     big.NewInt(1123456),
		},
		{
			name:     "invalid format",
			amount:   "1.2.3",
			decimals: 6,
			wantErr:  true,
		},
		{
			name:     "negative",
			amount:   "-1",
			decimals: 6,
			wantErr:  true,
		},
		{
			name:     "not a number",
			amount:   "one",
			decimals: 6,
			wantErr:  true,
		},
		{
			name:     "empty",
			amount:   "  ",
			decimals: 6,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.amount, tt.decimals)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAmount() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Cmp(tt.want) != 0 {
				t.Errorf("ParseAmount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   *big.Int
		decimals int
		want     string
	}{
		{"whole number", big.NewInt(1000000), 6, "1"},
		{"with decimals", big.NewInt(1500000), 6, "1.5"},
		{"small amount", big.NewInt(1), 6, "0.000001"},
		{"zero", big.NewInt(0), 6, "0"},
		{"nil amount", nil, 6, "0"},
		{"negative", big.NewInt(-2500000), 6, "-2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatAmount(tt.amount, tt.decimals); got != tt.want {
				t.Errorf("FormatAmount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEther(t *testing.T) {
	wei, err := ParseEther("1.25")
	if err != nil {
		t.Fatalf("ParseEther() error = %v", err)
	}
	if wei.String() != "1250000000000000000" {
		t.Errorf("ParseEther() = %s", wei)
	}
	if got := FormatEther(wei); got != "1.25" {
		t.Errorf("FormatEther() = %s, want 1.25", got)
	}
}
