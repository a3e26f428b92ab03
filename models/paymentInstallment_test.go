package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDeriveInstallmentStatus(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -3)
	future := now.AddDate(0, 0, 3)

	cases := []struct {
		name     string
		current  InstallmentStatus
		amount   string
		paid     string
		dueDate  time.Time
		expected InstallmentStatus
	}{
		{"cancelled is sticky", InstallmentStatusCancelled, "100", "100", past, InstallmentStatusCancelled},
		{"unpaid past due", InstallmentStatusPending, "100", "0", past, InstallmentStatusOverdue},
		{"unpaid before due", InstallmentStatusPending, "100", "0", future, InstallmentStatusPending},
		{"fully paid", InstallmentStatusPending, "100", "100", future, InstallmentStatusPaid},
		{"overpaid", InstallmentStatusPartial, "100", "120", past, InstallmentStatusPaid},
		{"partially paid past due", InstallmentStatusPending, "100", "40", past, InstallmentStatusPartial},
		{"due exactly now is not overdue", InstallmentStatusPending, "100", "0", now, InstallmentStatusPending},
	}
	for _, tc := range cases {
		amount, _ := decimal.NewFromString(tc.amount)
		paid, _ := decimal.NewFromString(tc.paid)
		got := DeriveInstallmentStatus(tc.current, amount, paid, tc.dueDate, now)
		if got != tc.expected {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.expected, got)
		}
	}
}

func TestPaidInstallmentsSum_SkipsCancelled(t *testing.T) {
	schedule := []PaymentInstallment{
		{PaidAmount: decimal.NewFromInt(500), Status: InstallmentStatusPaid},
		{PaidAmount: decimal.NewFromInt(300), Status: InstallmentStatusCancelled},
		{PaidAmount: decimal.NewFromInt(200), Status: InstallmentStatusPartial},
	}
	sum := PaidInstallmentsSum(schedule)
	if !sum.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("expected 700, got %s", sum)
	}
}
